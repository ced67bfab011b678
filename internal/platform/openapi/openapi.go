package openapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Generator builds the OpenAPI 3.0 document for the eligibility API.
type Generator struct {
	version string
	baseURL string
}

// NewGenerator creates a new OpenAPI spec generator.
func NewGenerator(version, baseURL string) *Generator {
	return &Generator{version: version, baseURL: baseURL}
}

// GenerateSpec produces the OpenAPI 3.0 spec as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	paths := map[string]interface{}{
		"/eligibility/check": map[string]interface{}{
			"post": map[string]interface{}{
				"summary":     "Run an eligibility check",
				"description": "Creates the patient on first sight, simulates the payer decision and records it.",
				"operationId": "checkEligibility",
				"tags":        []string{"Eligibility"},
				"requestBody": map[string]interface{}{
					"required": true,
					"content": map[string]interface{}{
						"application/json": map[string]interface{}{
							"schema": ref("EligibilityRequest"),
						},
					},
				},
				"responses": map[string]interface{}{
					"200": jsonResponse("Decision recorded", ref("EligibilityResponse")),
					"400": jsonResponse("Missing required fields, invalid date format or invalid request body", ref("Error")),
					"413": jsonResponse("Request body too large", ref("Error")),
					"429": jsonResponse("Rate limit exceeded", ref("Error")),
					"500": jsonResponse("Server error", ref("Error")),
				},
			},
		},
		"/eligibility/history/{patientId}": map[string]interface{}{
			"get": map[string]interface{}{
				"summary":     "List a patient's eligibility checks",
				"operationId": "getEligibilityHistory",
				"tags":        []string{"Eligibility"},
				"parameters": []map[string]interface{}{
					{"name": "patientId", "in": "path", "required": true, "schema": map[string]string{"type": "string"}},
				},
				"responses": map[string]interface{}{
					"200": jsonResponse("Stored checks, oldest first", map[string]interface{}{
						"type":  "array",
						"items": ref("EligibilityCheck"),
					}),
					"404": jsonResponse("No history found", ref("Error")),
					"429": jsonResponse("Rate limit exceeded", ref("Error")),
					"500": jsonResponse("Server error", ref("Error")),
				},
			},
		},
	}

	spec := map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Insurance Eligibility API",
			"version":     g.version,
			"description": "Records and retrieves simulated insurance eligibility checks",
		},
		"servers": []map[string]string{
			{"url": g.baseURL},
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": buildComponentSchemas(),
		},
	}

	return spec
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{"$ref": "#/components/schemas/" + name}
}

// jsonResponse creates an OpenAPI response with an application/json body.
func jsonResponse(description string, schema map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": schema,
			},
		},
	}
}

func str() map[string]interface{} { return map[string]interface{}{"type": "string"} }

func date() map[string]interface{} {
	return map[string]interface{}{"type": "string", "format": "date"}
}

func money(nullable bool) map[string]interface{} {
	m := map[string]interface{}{"type": "number", "format": "double"}
	if nullable {
		m["nullable"] = true
	}
	return m
}

var statusSchema = map[string]interface{}{
	"type": "string",
	"enum": []string{"Active", "Inactive", "Unknown"},
}

// buildComponentSchemas mirrors the JSON shapes the handlers read and write.
func buildComponentSchemas() map[string]interface{} {
	return map[string]interface{}{
		"EligibilityRequest": map[string]interface{}{
			"type": "object",
			"required": []string{
				"patientId", "patientName", "dateOfBirth",
				"memberNumber", "insuranceCompany", "serviceDate",
			},
			"properties": map[string]interface{}{
				"patientId":        str(),
				"patientName":      str(),
				"dateOfBirth":      date(),
				"memberNumber":     str(),
				"insuranceCompany": str(),
				"serviceDate":      date(),
			},
		},
		"Coverage": map[string]interface{}{
			"type":        "object",
			"description": "Present only for Active decisions; otherwise an empty object.",
			"properties": map[string]interface{}{
				"deductible":     money(false),
				"deductibleMet":  money(false),
				"copay":          money(false),
				"outOfPocketMax": money(false),
				"outOfPocketMet": money(false),
			},
		},
		"EligibilityResponse": map[string]interface{}{
			"type":     "object",
			"required": []string{"eligibilityId", "patientId", "checkDateTime", "status", "coverage", "errors"},
			"properties": map[string]interface{}{
				"eligibilityId": str(),
				"patientId":     str(),
				"checkDateTime": map[string]interface{}{"type": "string", "format": "date-time"},
				"status":        statusSchema,
				"coverage":      ref("Coverage"),
				"errors":        map[string]interface{}{"type": "array", "items": str()},
			},
		},
		"EligibilityCheck": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":                map[string]interface{}{"type": "string", "format": "uuid"},
				"eligibility_id":    str(),
				"patient_id":        str(),
				"check_datetime":    map[string]interface{}{"type": "string", "format": "date-time"},
				"status":            statusSchema,
				"deductible":        money(true),
				"deductible_met":    money(true),
				"copay":             money(true),
				"out_of_pocket_max": money(true),
				"out_of_pocket_met": money(true),
				"errors":            map[string]interface{}{"type": "array", "items": str()},
			},
		},
		"Error": map[string]interface{}{
			"type":     "object",
			"required": []string{"error"},
			"properties": map[string]interface{}{
				"error": str(),
			},
		},
	}
}

// RegisterRoutes registers the OpenAPI endpoint.
func (g *Generator) RegisterRoutes(e *echo.Echo) {
	e.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}
