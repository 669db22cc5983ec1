// Package builtin provides the four allow-listed demonstration tools:
// get_current_time, complex_api_call, calculate_expression, and
// get_system_info. Tool errors are returned as Go errors; the executor
// encodes them into failing ToolResults.
package builtin

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
	// Zone lookups resolve without host tzdata.
	_ "time/tzdata"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	orchestrator "github.com/sylvainbonnecarrere/A-IR-OB1"
)

// simulatedLatency is the artificial network delay of complex_api_call.
const simulatedLatency = 500 * time.Millisecond

// Register adds all four builtin tools to the registry.
func Register(r *orchestrator.ToolRegistry) error {
	for _, t := range Tools() {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Tools returns the builtin tools in allow-list order.
func Tools() []orchestrator.Tool {
	return []orchestrator.Tool{
		CurrentTime(),
		APICall(),
		Calculator(),
		SystemInfo(),
	}
}

// CurrentTime returns the get_current_time tool. The timezone_name
// argument accepts any IANA zone; unknown zones fail the call instead of
// silently falling back.
func CurrentTime() orchestrator.Tool {
	return orchestrator.Tool{
		Definition: orchestrator.ToolDefinition{
			Name:        "get_current_time",
			Description: "Returns the current date and time of the system, optionally in a named timezone.",
			Parameters: []orchestrator.ToolParameter{
				{
					Name:        "timezone_name",
					Type:        "string",
					Description: "IANA timezone name, e.g. UTC or Europe/Paris (default UTC)",
				},
			},
		},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			zone := stringArg(args, "timezone_name")
			if zone == "" {
				zone = "UTC"
			}
			loc, err := time.LoadLocation(zone)
			if err != nil {
				return nil, fmt.Errorf("unknown timezone %q", zone)
			}
			now := time.Now().In(loc)
			return fmt.Sprintf("Current time: %s (%s)", now.Format("2006-01-02 15:04:05"), zone), nil
		},
	}
}

// cityInfo is the simulated weather database of complex_api_call.
type cityInfo struct {
	country     string
	population  string
	temperature string
	weather     string
	timezone    string
}

var cities = map[string]cityInfo{
	"paris":    {"France", "2,161,000", "15°C", "Partly cloudy", "Europe/Paris"},
	"london":   {"United Kingdom", "8,982,000", "12°C", "Rainy", "Europe/London"},
	"tokyo":    {"Japan", "13,960,000", "22°C", "Sunny", "Asia/Tokyo"},
	"new york": {"United States", "8,336,000", "18°C", "Cloudy", "America/New_York"},
}

// APICall returns the complex_api_call tool: a simulated slow weather
// lookup. The latency honors context cancellation, so a batch timeout
// interrupts it.
func APICall() orchestrator.Tool {
	titleCaser := cases.Title(language.English)
	return orchestrator.Tool{
		Definition: orchestrator.ToolDefinition{
			Name:        "complex_api_call",
			Description: "Simulates a slow external API call returning weather and population information for a city.",
			Parameters: []orchestrator.ToolParameter{
				{
					Name:        "city",
					Type:        "string",
					Description: "City name (Paris, London, Tokyo, or New York)",
					Required:    true,
				},
			},
		},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			city := stringArg(args, "city")

			select {
			case <-time.After(simulatedLatency):
			case <-ctx.Done():
				return nil, ctx.Err()
			}

			info, ok := cities[strings.ToLower(strings.TrimSpace(city))]
			if !ok {
				return nil, fmt.Errorf("city %q not found. Available cities: Paris, London, Tokyo, New York", city)
			}
			return fmt.Sprintf(
				"Information for %s:\nCountry: %s\nPopulation: %s inhabitants\nTemperature: %s\nWeather: %s\nTimezone: %s\nSource: simulated weather API",
				titleCaser.String(city), info.country, info.population, info.temperature, info.weather, info.timezone,
			), nil
		},
	}
}

// Calculator returns the calculate_expression tool. Expressions are
// evaluated by a recursive-descent parser over an allow-listed character
// set; nothing is ever passed to an interpreter.
func Calculator() orchestrator.Tool {
	return orchestrator.Tool{
		Definition: orchestrator.ToolDefinition{
			Name:        "calculate_expression",
			Description: "Evaluates a simple arithmetic expression, e.g. \"2 + 3 * 4\".",
			Parameters: []orchestrator.ToolParameter{
				{
					Name:        "expression",
					Type:        "string",
					Description: "Arithmetic expression using digits and + - * / . ( )",
					Required:    true,
				},
			},
		},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			expression := strings.TrimSpace(stringArg(args, "expression"))
			for _, c := range expression {
				if !strings.ContainsRune(allowedExprChars, c) {
					return nil, fmt.Errorf("expression %q not allowed: only digits and the operators + - * / ( ) are permitted", expression)
				}
			}
			result, err := evalExpression(expression)
			if err != nil {
				return nil, err
			}
			return fmt.Sprintf("Calculation: %s = %s", expression, formatNumber(result)), nil
		},
	}
}

// SystemInfo returns the get_system_info tool reporting Go runtime facts.
func SystemInfo() orchestrator.Tool {
	return orchestrator.Tool{
		Definition: orchestrator.ToolDefinition{
			Name:        "get_system_info",
			Description: "Returns basic information about the host system and runtime.",
		},
		Fn: func(ctx context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf(
				"System information:\nOS: %s\nArchitecture: %s\nGo version: %s\nCPU cores: %d\nGoroutines: %d",
				runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.NumCPU(), runtime.NumGoroutine(),
			), nil
		},
	}
}

// stringArg reads a string argument, tolerating absent or non-string
// values as empty.
func stringArg(args map[string]any, name string) string {
	v, ok := args[name]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
