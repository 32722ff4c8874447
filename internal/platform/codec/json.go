// Package codec holds the HTTP body codec shared by every route.
package codec

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
)

// JSONSerializer is echo's JSON codec backed by goccy/go-json.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := json.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (JSONSerializer) Deserialize(c echo.Context, i interface{}) error {
	dec := json.NewDecoder(c.Request().Body)
	err := dec.Decode(i)

	var typeErr *json.UnmarshalTypeError
	var syntaxErr *json.SyntaxError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &typeErr):
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("field %q: expected %v, got %s", typeErr.Field, typeErr.Type, typeErr.Value)).SetInternal(err)
	case errors.As(err, &syntaxErr):
		return echo.NewHTTPError(http.StatusBadRequest,
			fmt.Sprintf("malformed JSON at offset %d", syntaxErr.Offset)).SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
}
