package zigbee

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/founek2/IOT-Platforma-zigbee/internal/platform"
)

// accessSet is the zigbee2mqtt access bit for writable exposes.
const accessSet = 0b010

// defaultNodeID is used when a friendly name leaves nothing usable.
const defaultNodeID = "Node"

// compositeTypes group leaf exposes under Features.
var compositeTypes = map[string]bool{
	"switch":  true,
	"light":   true,
	"lock":    true,
	"fan":     true,
	"cover":   true,
	"climate": true,
}

// gatewayProperty couples a platform property with the zigbee2mqtt field
// it mirrors.
type gatewayProperty struct {
	// Key is the zigbee2mqtt field name used in telemetry and set topics.
	Key  string
	Args platform.PropertyArgs

	// ValueOn and ValueOff are the gateway representations of a binary
	// expose, e.g. "ON"/"OFF".
	ValueOn  any
	ValueOff any
}

// convertExposes flattens composites and maps every supported leaf to a
// property. Unsupported leaves (composite values, lists) are skipped.
func convertExposes(exposes []Expose) []gatewayProperty {
	var out []gatewayProperty
	for _, e := range exposes {
		if compositeTypes[e.Type] {
			out = append(out, convertExposes(e.Features)...)
			continue
		}
		if gp, ok := convertExpose(e); ok {
			out = append(out, gp)
		}
	}
	return out
}

func convertExpose(e Expose) (gatewayProperty, bool) {
	key := e.key()
	id := sanitizeID(key)
	if id == "" {
		return gatewayProperty{}, false
	}

	args := platform.PropertyArgs{
		ID:       id,
		Name:     e.label(),
		Settable: e.Access&accessSet != 0,
		Unit:     e.Unit,
	}
	switch e.Type {
	case "binary":
		args.DataType = platform.DataTypeBoolean
	case "numeric":
		args.DataType = numericType(e)
		args.Format = rangeFormat(e)
	case "enum":
		args.DataType = platform.DataTypeEnum
		values := make([]string, 0, len(e.Values))
		for _, v := range e.Values {
			values = append(values, fmt.Sprint(v))
		}
		args.Format = strings.Join(values, ",")
	case "text":
		args.DataType = platform.DataTypeString
	default:
		return gatewayProperty{}, false
	}

	return gatewayProperty{Key: key, Args: args, ValueOn: e.ValueOn, ValueOff: e.ValueOff}, true
}

// numericType is integer when the expose declares a whole step, float
// otherwise.
func numericType(e Expose) platform.DataType {
	if e.ValueStep != nil && *e.ValueStep >= 1 && *e.ValueStep == math.Trunc(*e.ValueStep) {
		return platform.DataTypeInteger
	}
	return platform.DataTypeFloat
}

// rangeFormat renders "min:max" when both bounds are known.
func rangeFormat(e Expose) string {
	if e.ValueMin == nil || e.ValueMax == nil {
		return ""
	}
	return formatNumber(*e.ValueMin) + ":" + formatNumber(*e.ValueMax)
}

// sanitizeID replaces characters that are not allowed in a topic level id.
func sanitizeID(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', '$':
			return '_'
		}
		return r
	}, s)
}

// nodeID derives the node id from a friendly name.
func nodeID(friendlyName string) string {
	if id := sanitizeID(friendlyName); id != "" {
		return id
	}
	return defaultNodeID
}

// =============================================================================
// Value conversion
// =============================================================================

// fromGateway converts a telemetry field to its platform payload. gp may be
// nil for fields that no expose describes. Objects, arrays and null report
// false.
func (gp *gatewayProperty) fromGateway(raw any) (string, bool) {
	if gp.isBinary() {
		switch {
		case gp.ValueOn != nil && sameValue(raw, gp.ValueOn):
			return "true", true
		case gp.ValueOff != nil && sameValue(raw, gp.ValueOff):
			return "false", true
		}
	}
	return formatValue(raw)
}

// toGateway converts a platform set payload to what zigbee2mqtt expects.
func (gp *gatewayProperty) toGateway(value string) string {
	if gp.isBinary() {
		switch value {
		case "true":
			if gp.ValueOn != nil {
				return fmt.Sprint(gp.ValueOn)
			}
		case "false":
			if gp.ValueOff != nil {
				return fmt.Sprint(gp.ValueOff)
			}
		}
	}
	return value
}

// numeric returns a telemetry field as a number for time series storage.
// Booleans and binary exposes map to 0 and 1.
func (gp *gatewayProperty) numeric(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case bool:
		return boolToFloat(v), true
	}
	if gp.isBinary() {
		if s, ok := gp.fromGateway(raw); ok {
			if b, err := strconv.ParseBool(s); err == nil {
				return boolToFloat(b), true
			}
		}
	}
	return 0, false
}

func (gp *gatewayProperty) isBinary() bool {
	return gp != nil && gp.Args.DataType == platform.DataTypeBoolean
}

func formatValue(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case float64:
		return formatNumber(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func sameValue(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
