package generated

//go:generate go run github.com/oapi-codegen/oapi-codegen/v2/cmd/oapi-codegen -config oapi-codegen.yaml openapi.yaml

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var rawSpec []byte

// RawSpec は埋め込んだOpenAPI定義をそのまま返す
func RawSpec() []byte {
	return rawSpec
}

// GetSwagger は埋め込んだOpenAPI定義を読み込んで検証する
func GetSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("OpenAPI定義の読み込みに失敗: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("OpenAPI定義が不正です: %w", err)
	}
	return doc, nil
}
