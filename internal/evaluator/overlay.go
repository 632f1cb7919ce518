package evaluator

// OverlayRule copies one trigger payload key onto a field of a facts section.
type OverlayRule struct {
	PayloadKey string
	Section    string
	Field      string
}

// DefaultOverlay maps the fields carried by member, wallet and compliance
// events onto the aggregator's nested views.
var DefaultOverlay = []OverlayRule{
	{PayloadKey: "NewStatus", Section: "member", Field: "status"},
	{PayloadKey: "Status", Section: "wallet", Field: "status"},
	{PayloadKey: "Balance", Section: "wallet", Field: "balance"},
	{PayloadKey: "RiskLevel", Section: "compliance", Field: "riskLevel"},
	{PayloadKey: "KycStatus", Section: "compliance", Field: "kycStatus"},
}

// ApplyOverlay writes payload values into facts in place. Sections absent
// from facts are not created.
func ApplyOverlay(facts map[string]any, payload map[string]any, rules []OverlayRule) {
	if len(payload) == 0 {
		return
	}
	for _, r := range rules {
		v, ok := payload[r.PayloadKey]
		if !ok {
			continue
		}
		section, ok := facts[r.Section].(map[string]any)
		if !ok {
			continue
		}
		section[r.Field] = v
	}
}
