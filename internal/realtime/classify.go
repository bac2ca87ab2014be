package realtime

type ChangeType string

const (
	ChangeProfile       ChangeType = "profile"
	ChangePrivacy       ChangeType = "privacy"
	ChangeNotifications ChangeType = "notifications"
	ChangeCoaching      ChangeType = "coaching"
)

var changeGroups = []struct {
	columns []string
	kind    ChangeType
}{
	{[]string{"profile_completeness", "avatar_uploaded"}, ChangeProfile},
	{[]string{"portfolio_visibility", "marketplace_contact_enabled"}, ChangePrivacy},
	{[]string{"notifications_email", "notifications_categories"}, ChangeNotifications},
	{[]string{"ai_coach_style", "habit_frequency"}, ChangeCoaching},
}

// DetermineChangeType classifies a changed-row payload by the columns it
// contains. First matching group wins; anything else is a profile change.
func DetermineChangeType(record map[string]any) ChangeType {
	for _, g := range changeGroups {
		for _, c := range g.columns {
			if _, ok := record[c]; ok {
				return g.kind
			}
		}
	}
	return ChangeProfile
}
