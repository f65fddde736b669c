package rules

// Evaluate tests one condition against one profile value.
// An absent value, a non-numeric value under a numeric operator, or incomplete
// configuration all evaluate to false.
func Evaluate(c Condition, v Value) bool {
	if v.IsNull() {
		return false
	}

	switch c.Op() {
	case OpEq:
		return v.Equal(c.Value)

	case OpGt, OpGte, OpLt, OpLte:
		x, ok := v.Float()
		if !ok || c.Threshold == nil {
			return false
		}
		return compare(c.Op(), x, *c.Threshold)

	case OpBetween:
		x, ok := v.Float()
		if !ok || c.Range == nil || c.Range.Min == nil || c.Range.Max == nil {
			return false
		}
		return x >= *c.Range.Min && x <= *c.Range.Max

	case OpIn:
		for _, candidate := range c.Values {
			if v.Equal(candidate) {
				return true
			}
		}
		return false
	}

	return false
}

func compare(op Operator, x, threshold float64) bool {
	switch op {
	case OpGt:
		return x > threshold
	case OpGte:
		return x >= threshold
	case OpLt:
		return x < threshold
	case OpLte:
		return x <= threshold
	}
	return false
}
