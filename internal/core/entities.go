package core

import (
	"context"
	"fmt"

	"github.com/JonMunkholm/stonecat/internal/catalog"
)

// defaultFinish is applied to products whose file gives no finish.
var defaultFinish = []string{"polished"}

func init() {
	schemas, err := LoadSchemas(entitiesYAML)
	if err != nil {
		panic(fmt.Sprintf("load embedded entity schemas: %v", err))
	}

	builders := map[string]struct {
		build  BuildPayloadFunc
		create CreateFunc
	}{
		EntityVariants:         {buildVariant, createVariant},
		EntitySpecificVariants: {buildSpecificVariant, createSpecificVariant},
		EntityProducts:         {buildProduct, createProduct},
	}

	for _, s := range schemas {
		def := EntityDefinition{Schema: s}
		if b, ok := builders[s.Key]; ok {
			def.BuildPayload = b.build
			def.Create = b.create
		}
		Register(def)
	}
}

func buildVariant(row Row, schema EntitySchema) (any, error) {
	v, err := CoerceRow(row, schema)
	if err != nil {
		return nil, err
	}
	return catalog.VariantInput{
		Name:        v["name"].String(),
		Description: v["description"].String(),
		Image:       v["image"].String(),
	}, nil
}

func createVariant(ctx context.Context, api CatalogAPI, payload any) (catalog.CreateOutcome, error) {
	return api.CreateVariant(ctx, payload.(catalog.VariantInput))
}

func buildSpecificVariant(row Row, schema EntitySchema) (any, error) {
	v, err := CoerceRow(row, schema)
	if err != nil {
		return nil, err
	}
	return catalog.SpecificVariantInput{
		Name:        v["name"].String(),
		Description: v["description"].String(),
		Image:       v["image"].String(),
		VariantID:   v["variantId"].String(),
	}, nil
}

func createSpecificVariant(ctx context.Context, api CatalogAPI, payload any) (catalog.CreateOutcome, error) {
	return api.CreateSpecificVariant(ctx, payload.(catalog.SpecificVariantInput))
}

func buildProduct(row Row, schema EntitySchema) (any, error) {
	v, err := CoerceRow(row, schema)
	if err != nil {
		return nil, err
	}

	finish := splitList(v["finish"].String())
	if len(finish) == 0 {
		finish = append([]string(nil), defaultFinish...)
	}
	return catalog.ProductInput{
		Name:              v["name"].String(),
		Description:       v["description"].String(),
		BasePrice:         v["basePrice"].Num,
		Stock:             v["stock"].Int(),
		Unit:              v["unit"].String(),
		Status:            v["status"].String(),
		SpecificVariantID: v["specificVariantId"].String(),
		Finish:            finish,
		Dimensions:        []catalog.Dimensions{},
		Images:            splitList(v["images"].String()),
		Applications:      splitList(v["applications"].String()),
	}, nil
}

func createProduct(ctx context.Context, api CatalogAPI, payload any) (catalog.CreateOutcome, error) {
	return api.CreateProduct(ctx, payload.(catalog.ProductInput))
}
