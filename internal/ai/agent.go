package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"goldenthreads/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"github.com/shopspring/decimal"
)

// AgentService turns a customer request written in natural language into a
// structured quotation draft for operator review. The draft is never
// submitted automatically.
type AgentService interface {
	DraftQuotation(ctx context.Context, request string, rateCard string, materials string) (*QuotationDraft, error)
}

type Agent struct {
	client *openai.Client
}

func NewAgent(apiKey string) *Agent {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client}
}

// QuotationDraft mirrors the quotation input with string amounts so the model
// output stays exact. ToInput converts it for the costing engine.
type QuotationDraft struct {
	CustomerName    string        `json:"customer_name" jsonschema_description:"Customer full name"`
	CustomerPhone   string        `json:"customer_phone" jsonschema_description:"Customer phone number, empty if not given"`
	CustomerAddress string        `json:"customer_address" jsonschema_description:"Customer address, empty if not given"`
	GarmentType     string        `json:"garment_type" jsonschema_description:"Garment type, e.g. T-Shirt, Polo, Jacket"`
	OrderType       string        `json:"order_type" jsonschema:"enum=FOB,enum=CMT" jsonschema_description:"FOB if the shop supplies fabric, CMT if the customer does"`
	DeliveryType    string        `json:"delivery_type" jsonschema:"enum=for_delivery,enum=for_pickup"`
	Sizes           []DraftSize   `json:"sizes" jsonschema_description:"Per-size quantity breakdown"`
	Fabrics         []DraftFabric `json:"fabrics" jsonschema_description:"Selected fabrics from the material list, empty for CMT"`
	Reasoning       string        `json:"reasoning" jsonschema_description:"Short explanation of the choices made"`
	Confidence      float64       `json:"confidence" jsonschema_description:"Confidence score between 0.0 and 1.0"`
}

type DraftSize struct {
	Size     string `json:"size" jsonschema_description:"Size label, e.g. S, M, L, XL"`
	Quantity int    `json:"quantity"`
}

type DraftFabric struct {
	Name       string `json:"name" jsonschema_description:"Fabric color or material name"`
	SKU        string `json:"sku" jsonschema_description:"SKU from the material list"`
	Yards      string `json:"yards" jsonschema_description:"Total yards as an exact decimal string, e.g. 12.5"`
	PricePerYd string `json:"price_per_yard" jsonschema_description:"Per-yard price as an exact decimal string"`
}

// ToInput converts the draft into a quotation input, validating the decimal
// strings.
func (d *QuotationDraft) ToInput() (core.QuotationInput, error) {
	in := core.QuotationInput{
		CustomerName:    d.CustomerName,
		CustomerPhone:   d.CustomerPhone,
		CustomerAddress: d.CustomerAddress,
		GarmentType:     d.GarmentType,
		OrderType:       core.OrderType(d.OrderType),
		DeliveryType:    core.DeliveryType(d.DeliveryType),
	}
	for _, s := range d.Sizes {
		in.Sizes = append(in.Sizes, core.SizeRow{Size: s.Size, Quantity: s.Quantity})
	}
	for _, f := range d.Fabrics {
		yards, err := decimal.NewFromString(f.Yards)
		if err != nil {
			return in, fmt.Errorf("invalid yards %q for %s: %w", f.Yards, f.SKU, err)
		}
		price, err := decimal.NewFromString(f.PricePerYd)
		if err != nil {
			return in, fmt.Errorf("invalid price %q for %s: %w", f.PricePerYd, f.SKU, err)
		}
		in.Fabrics = append(in.Fabrics, core.ColorRow{
			Name:        f.Name,
			Yards:       yards,
			FabricSKU:   f.SKU,
			FabricPrice: price,
		})
	}
	return in, nil
}

func (a *Agent) DraftQuotation(ctx context.Context, request string, rateCard string, materials string) (*QuotationDraft, error) {
	prompt := fmt.Sprintf(`You are a quotation assistant for a garment production shop.
Your goal is to read a customer's request and draft a structured quotation.
Rules:
1. Use ONLY skus from the material list below.
2. Amounts must be exact decimal strings (e.g. "12.50").
3. Choose FOB when the shop supplies fabric, CMT when the customer brings their own.
4. Provide a confidence score (0.0-1.0).
5. Explain your reasoning briefly.

Base rates:
%s

Materials in stock:
%s

Request: %s`, rateCard, materials, request)

	// Dynamically generate the JSON schema from the Go struct
	schemaStruct := generateSchema()
	schemaJSON, err := json.Marshal(schemaStruct)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(shared.ChatModelGPT4o),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(prompt),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "quotation_draft",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("A structured garment quotation draft"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	var draft QuotationDraft
	if err := json.Unmarshal([]byte(content), &draft); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}
	if len(draft.Sizes) == 0 {
		return nil, fmt.Errorf("draft has no size breakdown")
	}

	return &draft, nil
}

func generateSchema() interface{} {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v QuotationDraft
	return reflector.Reflect(v)
}
