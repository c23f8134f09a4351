package pivot

import (
	"errors"
	"net/url"
	"strings"
)

const (
	catalogPath = "/api/pivot/catalogo"
	queryPath   = "/api/pivot/consulta"
)

func dimensionValuesPath(dimensionID string) string {
	return "/api/pivot/dimensiones/" + url.PathEscape(dimensionID) + "/valores"
}

func normalizeBaseURL(baseURL string) string {
	return strings.TrimRight(strings.TrimSpace(baseURL), "/")
}

// buildURL joins path onto baseURL. Without a base URL, the path is resolved against origin, the
// way a browser resolves a relative path against the page it was loaded from.
func buildURL(baseURL string, origin string, path string, query url.Values) (string, error) {
	base := normalizeBaseURL(baseURL)
	if base == "" {
		base = normalizeBaseURL(origin)
		if base == "" {
			return "", errors.New("no API base URL or origin configured")
		}
	}

	if _, err := url.Parse(base); err != nil {
		return "", err
	}

	endpoint := base + path
	if len(query) != 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint, nil
}
