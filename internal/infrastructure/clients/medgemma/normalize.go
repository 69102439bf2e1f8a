package medgemma

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/klenai/stonecare/internal/clinical"
	"github.com/klenai/stonecare/internal/domain/entities"
)

// NormalizeScanOutput turns raw model output into schema-validated findings.
// Models are inconsistent about field names and shapes: coordinates arrive as
// lists or {x,y,z} objects, sizes as millimeters, voxels, or bounding boxes,
// numbers sometimes as strings. Everything recognizable is folded onto the
// canonical finding shape; output that is not JSON at all is an error.
func NormalizeScanOutput(data []byte, spacing [3]float64) (*entities.ScanFindings, error) {
	payload, err := coercePayload(data)
	if err != nil {
		return nil, err
	}

	stonesRaw := firstValue(payload, "stones", "stones_detected", "findings")
	var stoneMaps []map[string]interface{}
	switch v := stonesRaw.(type) {
	case []interface{}:
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				stoneMaps = append(stoneMaps, m)
			}
		}
	case map[string]interface{}:
		stoneMaps = append(stoneMaps, v)
	}

	findings := &entities.ScanFindings{}
	for _, m := range stoneMaps {
		findings.Stones = append(findings.Stones, normalizeStone(m, spacing))
	}

	if conf := parseFloat(payload["confidence"]); conf != nil {
		findings.Confidence = *conf
	} else if len(findings.Stones) > 0 {
		findings.Confidence = 0.6
	} else {
		findings.Confidence = 0.2
	}

	if comp, ok := payload["predicted_composition"].(string); ok {
		findings.PredictedComposition = clinical.NormalizeComposition(comp)
	}
	return findings, nil
}

func coercePayload(data []byte) (map[string]interface{}, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("output is not valid JSON: %w", err)
	}
	switch v := raw.(type) {
	case map[string]interface{}:
		return v, nil
	case []interface{}:
		if len(v) > 0 {
			if first, ok := v[0].(map[string]interface{}); ok {
				if _, has := first["stones"]; has {
					return first, nil
				}
				if _, has := first["stones_detected"]; has {
					return first, nil
				}
			}
		}
		return map[string]interface{}{"stones": v}, nil
	default:
		return nil, errors.New("output JSON is neither an object nor a list")
	}
}

func normalizeStone(m map[string]interface{}, spacing [3]float64) entities.StoneFinding {
	stone := entities.StoneFinding{
		Location:       normalizeLocation(stringValue(m, "location")),
		Shape:          stringValue(m, "shape"),
		Hydronephrosis: normalizeHydro(firstString(m, "hydronephrosis", "hydronephrosis_level", "hydronephrosis_severity")),
	}

	stone.LocationCoords = normalizeCoords(m)
	stone.HounsfieldUnits = parseFloat(firstValue(m, "hounsfield_units", "hu"))
	stone.Obstruction = boolValue(firstValue(m, "obstruction", "obstructing"))
	stone.CompleteObstruction = boolValue(m["complete_obstruction"])
	if comp := firstString(m, "predicted_composition", "composition"); comp != "" {
		stone.PredictedComposition = clinical.NormalizeComposition(comp)
	}

	normalizeSizes(&stone, m, spacing)
	return stone
}

// normalizeCoords resolves the seed coordinate under any of its aliases,
// accepting both list and {x,y,z} object forms.
func normalizeCoords(m map[string]interface{}) []float64 {
	for _, key := range []string{"location_coords", "location_coordinates", "coords", "coordinates", "center_coords", "centroid"} {
		value, ok := m[key]
		if !ok || value == nil {
			continue
		}
		if coords := parseVector(value); len(coords) >= 3 {
			return coords[:3]
		}
		if obj, ok := value.(map[string]interface{}); ok {
			if coords := coordsFromObject(obj); coords != nil {
				return coords
			}
		}
	}
	return nil
}

func coordsFromObject(obj map[string]interface{}) []float64 {
	lower := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		lower[strings.ToLower(k)] = v
	}
	x := parseFloat(lower["x"])
	y := parseFloat(lower["y"])
	z := parseFloat(lower["z"])
	if x == nil || y == nil || z == nil {
		return nil
	}
	return []float64{*x, *y, *z}
}

// normalizeSizes resolves the stone's size descriptors in preference order:
// explicit millimeters, millimeter dimensions, voxel sizes scaled by
// spacing, then a bounding box converted to dimensions.
func normalizeSizes(stone *entities.StoneFinding, m map[string]interface{}, spacing [3]float64) {
	for i := range spacing {
		if spacing[i] <= 0 {
			spacing[i] = 1
		}
	}
	maxSpacing := spacing[0]
	for _, s := range spacing[1:] {
		if s > maxSpacing {
			maxSpacing = s
		}
	}

	sizeMM := parseFloat(firstValue(m, "size_mm", "diameter_mm", "max_diameter_mm", "max_dimension_mm"))
	dimsMM := parseVector(firstValue(m, "dimensions_mm", "dims_mm", "dimensions"))
	if len(dimsMM) > 0 {
		stone.DimensionsMM = dimsMM
		if sizeMM == nil {
			sizeMM = fptr(maxOf(dimsMM))
		}
	}

	if sizeMM == nil {
		if sv := parseFloat(firstValue(m, "size_voxels", "size_px", "max_dimension_voxels", "max_dimension_px")); sv != nil && *sv > 0 {
			sizeMM = fptr(*sv * maxSpacing)
		}
	}
	if sizeMM == nil {
		if dimsVox := parseVector(firstValue(m, "dimensions_voxels", "dimensions_px", "dims_voxels", "dims_px")); len(dimsVox) >= 3 {
			dims := []float64{dimsVox[0] * spacing[0], dimsVox[1] * spacing[1], dimsVox[2] * spacing[2]}
			stone.DimensionsMM = dims
			sizeMM = fptr(maxOf(dims))
		}
	}

	bboxRaw := firstValue(m, "bbox_voxels", "bbox_px", "bounding_box_voxels", "bounding_box_px", "bbox")
	bbox := parseVector(bboxRaw)
	if len(bbox) < 6 {
		if obj, ok := bboxRaw.(map[string]interface{}); ok {
			bbox = bboxFromObject(obj)
		}
	}
	if len(bbox) >= 6 {
		stone.BBoxVoxels = bbox[:6]
		if sizeMM == nil {
			dims := []float64{
				(bbox[3] - bbox[0]) * spacing[0],
				(bbox[4] - bbox[1]) * spacing[1],
				(bbox[5] - bbox[2]) * spacing[2],
			}
			stone.DimensionsMM = dims
			sizeMM = fptr(maxOf(dims))
		}
	}

	stone.SizeMM = sizeMM
}

// bboxFromObject flattens an object-form bounding box to z0,y0,x0,z1,y1,x1.
// It accepts per-axis min/max keys or paired min/max corner lists.
func bboxFromObject(obj map[string]interface{}) []float64 {
	lower := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		lower[strings.ToLower(k)] = v
	}

	if mins := parseVector(lower["min"]); len(mins) >= 3 {
		if maxs := parseVector(lower["max"]); len(maxs) >= 3 {
			return []float64{mins[0], mins[1], mins[2], maxs[0], maxs[1], maxs[2]}
		}
	}

	keys := []string{"z_min", "y_min", "x_min", "z_max", "y_max", "x_max"}
	out := make([]float64, 0, 6)
	for _, key := range keys {
		f := parseFloat(lower[key])
		if f == nil {
			return nil
		}
		out = append(out, *f)
	}
	return out
}

// normalizeLocation maps free-text anatomical descriptions to the canonical
// location tags. Unrecognized kidney text defaults to the upper pole, plain
// "ureter" to proximal.
func normalizeLocation(text string) entities.StoneLocation {
	loc := strings.ToLower(text)
	switch {
	case strings.Contains(loc, "upper") && strings.Contains(loc, "kidney"):
		return entities.LocationKidneyUpper
	case strings.Contains(loc, "lower") && strings.Contains(loc, "kidney"):
		return entities.LocationKidneyLower
	case strings.Contains(loc, "proximal") || strings.Contains(loc, "upper ureter"):
		return entities.LocationProximalUreter
	case strings.Contains(loc, "distal") || strings.Contains(loc, "lower ureter"):
		return entities.LocationDistalUreter
	case strings.Contains(loc, "ureter"):
		return entities.LocationProximalUreter
	default:
		return entities.LocationKidneyUpper
	}
}

func normalizeHydro(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func firstValue(m map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstString(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringValue(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolValue(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		parsed, err := strconv.ParseBool(strings.ToLower(t))
		return err == nil && parsed
	default:
		return false
	}
}

func parseFloat(v interface{}) *float64 {
	switch t := v.(type) {
	case float64:
		return &t
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return &f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return &f
		}
	case int:
		f := float64(t)
		return &f
	}
	return nil
}

func parseVector(v interface{}) []float64 {
	if s, ok := v.(string); ok {
		text := strings.TrimSpace(s)
		if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") {
			var raw []interface{}
			if err := json.Unmarshal([]byte(text), &raw); err != nil {
				return nil
			}
			v = raw
		}
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, item := range list {
		f := parseFloat(item)
		if f == nil {
			return nil
		}
		out = append(out, *f)
	}
	return out
}

func fptr(v float64) *float64 { return &v }

func maxOf(vals []float64) float64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
