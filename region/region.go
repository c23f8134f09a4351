// Package region holds the region filter that an embedding page can force on the pivot table
// through its reg URL parameter. While forced, every query is restricted to the region, and the
// user cannot change the region filter.
package region

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"hermannm.dev/devlog/log"
	"hermannm.dev/pivot/pivot"
)

const (
	MinCode = 1
	MaxCode = 20

	// URLParam is the query parameter of the embedding page that forces a region.
	URLParam = "reg"
)

// Names maps region codes to display names.
var Names = map[string]string{
	"1":  "Departamental de Atlántida",
	"2":  "Departamental de Colón",
	"3":  "Departamental de Comayagua",
	"4":  "Departamental de Copán",
	"5":  "Departamental de Cortés",
	"6":  "Departamental de Choluteca",
	"7":  "Departamental de El Paraíso",
	"8":  "Departamental de Francisco Morazán",
	"9":  "Departamental de Gracias a Dios",
	"10": "Departamental de Intibucá",
	"11": "Departamental de Islas de la Bahía",
	"12": "Departamental de La Paz",
	"13": "Departamental de Lempira",
	"14": "Departamental de Ocotepeque",
	"15": "Departamental de Olancho",
	"16": "Departamental de Santa Bárbara",
	"17": "Departamental de Valle",
	"18": "Departamental de Yoro",
	"19": "Metropolitana del Distrito Central",
	"20": "Metropolitana de San Pedro Sula",
}

// Parse validates a region code, returning it in canonical form ("07" becomes "7").
func Parse(value string) (code string, ok bool) {
	number, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || number < MinCode || number > MaxCode {
		return "", false
	}
	return strconv.Itoa(number), true
}

func Name(code string) string {
	if name, ok := Names[code]; ok {
		return name
	}
	return fmt.Sprintf("Región %s", code)
}

// Filter holds the forced region, if any. The zero value has no forced region, and a Filter is
// safe for concurrent use. It implements pivot.RegionSource.
type Filter struct {
	lock sync.RWMutex
	code string
}

func NewFilter() *Filter {
	return &Filter{}
}

// SetFromURL forces the region given by the reg parameter of the page URL. Without the parameter,
// or if it is invalid, the filter is cleared.
func (filter *Filter) SetFromURL(pageURL string) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		log.Warn("failed to parse page URL, clearing region filter", slog.String("url", pageURL))
		filter.Clear()
		return
	}
	filter.setFromQuery(parsed.Query())
}

// SetFromQuery is like SetFromURL, but takes the raw query string of the page URL.
func (filter *Filter) SetFromQuery(rawQuery string) {
	query, err := url.ParseQuery(strings.TrimPrefix(rawQuery, "?"))
	if err != nil {
		log.Warn("failed to parse page query, clearing region filter", slog.String("query", rawQuery))
		filter.Clear()
		return
	}
	filter.setFromQuery(query)
}

func (filter *Filter) setFromQuery(query url.Values) {
	value := query.Get(URLParam)
	if value == "" {
		filter.Clear()
		return
	}

	if err := filter.Set(value); err != nil {
		log.Warn("ignoring invalid region parameter", slog.String(URLParam, value))
		filter.Clear()
		return
	}

	code, _ := filter.ForcedRegion()
	log.Info("region filter forced", slog.String("code", code), slog.String("name", Name(code)))
}

func (filter *Filter) Set(value string) error {
	code, ok := Parse(value)
	if !ok {
		return fmt.Errorf(
			"invalid region '%s' (must be a number between %d and %d)",
			value,
			MinCode,
			MaxCode,
		)
	}

	filter.lock.Lock()
	defer filter.lock.Unlock()
	filter.code = code
	return nil
}

func (filter *Filter) Clear() {
	filter.lock.Lock()
	defer filter.lock.Unlock()
	filter.code = ""
}

func (filter *Filter) ForcedRegion() (code string, ok bool) {
	filter.lock.RLock()
	defer filter.lock.RUnlock()
	return filter.code, filter.code != ""
}

// Name returns the display name of the forced region, or "" if none is forced.
func (filter *Filter) Name() string {
	code, ok := filter.ForcedRegion()
	if !ok {
		return ""
	}
	return Name(code)
}

// APIFilter returns the query filter for the forced region, if any.
func (filter *Filter) APIFilter() (pivot.Filter, bool) {
	code, ok := filter.ForcedRegion()
	if !ok {
		return pivot.Filter{}, false
	}
	return pivot.Filter{Field: pivot.RegionField, Values: []pivot.Value{code}}, true
}

// Lock marks the region filter descriptor as locked to the forced region, so that the user
// cannot change it. Without a forced region, any lock is lifted.
func (filter *Filter) Lock(descriptors []pivot.FilterDescriptor) {
	code, forced := filter.ForcedRegion()

	for i := range descriptors {
		descriptor := &descriptors[i]
		if descriptor.Field != pivot.RegionField {
			continue
		}

		descriptor.Locked = forced
		if forced {
			descriptor.Selected = []pivot.Value{code}
			if !hasOption(descriptor.Options, code) {
				descriptor.Options = append(
					descriptor.Options,
					pivot.Option{Value: code, Label: Name(code)},
				)
			}
		}
	}
}

func hasOption(options []pivot.Option, code string) bool {
	for _, option := range options {
		if fmt.Sprint(option.Value) == code {
			return true
		}
	}
	return false
}
