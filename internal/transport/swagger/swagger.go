package swagger

import (
	"context"
	"fmt"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Handler() http.Handler {
	// Serve the OpenAPI spec from api/openapi.yml
	return httpSwagger.Handler(
		httpSwagger.URL("/openapi.yml"), // URL to the OpenAPI spec served at root
	)
}

// ValidateSpec loads and validates the OpenAPI document at startup so a
// malformed spec fails the boot instead of surfacing as a broken UI.
func ValidateSpec(ctx context.Context, path string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("load openapi spec %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("validate openapi spec %s: %w", path, err)
	}
	return nil
}
