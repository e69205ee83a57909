// Package regions partitions a run's search geography into regions for
// parallel Agent-driven discovery.
package regions

import (
	"fmt"
	"strings"

	"github.com/reachvector/leadpipe/pkg/models"
)

// Region is a narrower geography carved out of the run criteria. Name tags
// candidates (agent:region:<name>); Focus is the narrative handed to the
// Agent prompt.
type Region struct {
	Name  string
	Focus string
}

// topCities lists the metros used to partition a state-only search. The
// table covers the states the catalogs serve; unlisted states fall back to
// compass quadrants.
var topCities = map[string][]string{
	"AZ": {"Phoenix", "Tucson", "Mesa", "Scottsdale"},
	"CA": {"Los Angeles", "San Diego", "San Francisco", "Sacramento"},
	"CO": {"Denver", "Colorado Springs", "Boulder", "Fort Collins"},
	"FL": {"Miami", "Orlando", "Tampa", "Jacksonville"},
	"GA": {"Atlanta", "Savannah", "Augusta", "Columbus"},
	"IL": {"Chicago", "Aurora", "Naperville", "Rockford"},
	"NC": {"Charlotte", "Raleigh", "Durham", "Greensboro"},
	"NY": {"New York", "Buffalo", "Rochester", "Albany"},
	"TX": {"Houston", "Dallas", "Austin", "San Antonio"},
	"WA": {"Seattle", "Spokane", "Tacoma", "Bellevue"},
}

var quadrants = []string{"northwest", "northeast", "southwest", "southeast"}

// Partition splits the criteria geography into at most count regions.
// Single-city criteria yield one region (or city quadrants when count > 1);
// state-only criteria split across the state's top cities; multi-state
// criteria get one region per state. Always returns at least one region.
func Partition(criteria models.Criteria, count int) []Region {
	if count < 1 {
		count = 1
	}

	switch {
	case len(criteria.States) > 1:
		return byState(criteria.States)
	case criteria.City != "":
		return byCity(criteria.City, criteria.State, count)
	case criteria.State != "":
		return byTopCities(criteria.State, count)
	default:
		return []Region{{
			Name:  "nationwide",
			Focus: "the full United States market, prioritizing metros with dense rental inventory",
		}}
	}
}

func byState(states []string) []Region {
	regions := make([]Region, 0, len(states))
	for _, st := range states {
		regions = append(regions, Region{
			Name:  strings.ToLower(st),
			Focus: fmt.Sprintf("the state of %s, covering its major metros and secondary markets", st),
		})
	}
	return regions
}

func byCity(city, state string, count int) []Region {
	place := city
	if state != "" {
		place = fmt.Sprintf("%s, %s", city, state)
	}
	if count == 1 {
		return []Region{{
			Name:  slug(city),
			Focus: fmt.Sprintf("the %s metro area and its immediate suburbs", place),
		}}
	}

	regions := make([]Region, 0, count)
	for i := 0; i < count && i < len(quadrants); i++ {
		q := quadrants[i]
		regions = append(regions, Region{
			Name:  slug(city) + "-" + q,
			Focus: fmt.Sprintf("the %s quadrant of %s, including adjacent suburbs in that direction", q, place),
		})
	}
	return regions
}

func byTopCities(state string, count int) []Region {
	if count == 1 {
		return []Region{{
			Name:  slug(state),
			Focus: fmt.Sprintf("the state of %s, covering its major metros and secondary markets", state),
		}}
	}

	cities, ok := topCities[strings.ToUpper(state)]
	if !ok {
		// Unknown state: quadrant the whole state.
		regions := make([]Region, 0, count)
		for i := 0; i < count && i < len(quadrants); i++ {
			q := quadrants[i]
			regions = append(regions, Region{
				Name:  slug(state) + "-" + q,
				Focus: fmt.Sprintf("the %s portion of %s", q, state),
			})
		}
		if len(regions) == 0 {
			regions = append(regions, Region{
				Name:  slug(state),
				Focus: fmt.Sprintf("the state of %s", state),
			})
		}
		return regions
	}

	if count > len(cities) {
		count = len(cities)
	}
	regions := make([]Region, 0, count)
	for i := 0; i < count; i++ {
		city := cities[i]
		regions = append(regions, Region{
			Name:  slug(city),
			Focus: fmt.Sprintf("the %s, %s metro area", city, strings.ToUpper(state)),
		})
	}
	return regions
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "-")
}
