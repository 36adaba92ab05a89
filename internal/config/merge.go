package config

// mergeMaps implements the deep-merge rule from spec §6/§9: scalars and
// arrays replace wholesale, maps merge key-wise, and a null override
// removes the base key. base is not mutated.
func mergeMaps(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if v == nil {
			delete(out, k)
			continue
		}
		bv, exists := out[k]
		if !exists {
			out[k] = v
			continue
		}
		bm, baseIsMap := asMap(bv)
		om, overrideIsMap := asMap(v)
		if baseIsMap && overrideIsMap {
			out[k] = mergeMaps(bm, om)
			continue
		}
		out[k] = v
	}
	return out
}

// asMap normalizes the two shapes yaml.Unmarshal produces for mappings
// when decoding into `any` (map[string]any, and occasionally
// map[interface{}]interface{} from nested generic decodes).
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}
