package app

import (
	"fmt"
	"reflect"

	"procurement-recon/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/shopspring/decimal"
)

// Request schema names accepted by RequestSchema.
const (
	SchemaPurchaseOrder = "purchase-order"
	SchemaDC            = "dc"
	SchemaInvoice       = "invoice"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

// RequestSchema returns the JSON schema of the named write request.
func (s *appService) RequestSchema(op string) (any, error) {
	return generateSchema(op)
}

func generateSchema(op string) (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t == decimalType {
				return &jsonschema.Schema{
					OneOf: []*jsonschema.Schema{
						{Type: "string", Pattern: `^-?[0-9]+(\.[0-9]+)?$`},
						{Type: "number"},
					},
				}
			}
			return nil
		},
	}

	switch op {
	case SchemaPurchaseOrder:
		return reflector.Reflect(&ImportPurchaseOrderRequest{}), nil
	case SchemaDC:
		return reflector.Reflect(&CreateDCRequest{}), nil
	case SchemaInvoice:
		return reflector.Reflect(&CreateInvoiceRequest{}), nil
	default:
		return nil, fmt.Errorf("schema %q: %w", op, core.ErrNotFound)
	}
}
