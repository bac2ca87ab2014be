package settings

import (
	"fmt"

	"ochsettings/internal/models"
)

type Feature string

const (
	FeatureMarketplaceFull    Feature = "marketplace_full"
	FeatureAICoachFull        Feature = "ai_coach_full"
	FeatureMentorAccess       Feature = "mentor_access"
	FeaturePortfolioExport    Feature = "portfolio_export"
	FeatureMarketplaceContact Feature = "marketplace_contact"
)

// MarketplaceCompletenessThreshold is the profile score marketplace features require.
const MarketplaceCompletenessThreshold = 80

// Features is the fixed evaluation order of AllFeatureGates.
var Features = []Feature{
	FeatureMarketplaceFull,
	FeatureAICoachFull,
	FeatureMentorAccess,
	FeaturePortfolioExport,
	FeatureMarketplaceContact,
}

// FeatureGate is the decision for one feature.
type FeatureGate struct {
	Feature         Feature `json:"feature"`
	Enabled         bool    `json:"enabled"`
	Reason          string  `json:"reason,omitempty"`
	UpgradeRequired bool    `json:"upgradeRequired"`
}

const (
	reasonNotLoaded       = "User data not loaded"
	reasonUnknownFeature  = "Unknown feature"
	reasonStarterOrPro    = "Starter or Professional tier required"
	reasonProOrEnhanced   = "Professional tier or enhanced access required"
	reasonProMarketplace  = "Professional tier required for full marketplace access"
	reasonMarketplaceOff  = "Marketplace full access not enabled"
	reasonContactDisabled = "Marketplace contact disabled in settings"
)

func profileGapReason(pc int) string {
	return fmt.Sprintf("Profile %d%% complete (%d%% required)", pc, MarketplaceCompletenessThreshold)
}

// CheckFeatureAccess evaluates one feature. Missing data or an unknown
// feature always yields a disabled gate.
func CheckFeatureAccess(ent *models.UserEntitlements, s *models.UserSettings, feature Feature) FeatureGate {
	g := FeatureGate{Feature: feature}
	if ent == nil || s == nil {
		g.Reason = reasonNotLoaded
		return g
	}

	switch feature {
	case FeatureMarketplaceFull:
		g.Enabled = ent.MarketplaceFullAccess
		g.UpgradeRequired = ent.Tier != models.TierProfessional
		if !g.Enabled {
			switch {
			case s.ProfileCompleteness < MarketplaceCompletenessThreshold:
				g.Reason = profileGapReason(s.ProfileCompleteness)
			case ent.Tier != models.TierProfessional:
				g.Reason = reasonProMarketplace
			default:
				g.Reason = reasonMarketplaceOff
			}
		}
	case FeatureAICoachFull:
		g.Enabled = ent.AICoachFullAccess
		g.UpgradeRequired = ent.Tier != models.TierProfessional
		if !g.Enabled {
			g.Reason = reasonProOrEnhanced
		}
	case FeatureMentorAccess:
		g.Enabled = ent.MentorAccess
		g.UpgradeRequired = ent.Tier == models.TierFree
		if !g.Enabled {
			g.Reason = reasonStarterOrPro
		}
	case FeaturePortfolioExport:
		g.Enabled = ent.PortfolioExportEnabled
		g.UpgradeRequired = ent.Tier == models.TierFree
		if !g.Enabled {
			g.Reason = reasonStarterOrPro
		}
	case FeatureMarketplaceContact:
		g.Enabled = s.MarketplaceContactEnabled && s.ProfileCompleteness >= MarketplaceCompletenessThreshold
		if !g.Enabled {
			if !s.MarketplaceContactEnabled {
				g.Reason = reasonContactDisabled
			} else {
				g.Reason = profileGapReason(s.ProfileCompleteness)
			}
		}
	default:
		g.Reason = reasonUnknownFeature
	}
	return g
}

// AllFeatureGates evaluates every known feature in Features order.
func AllFeatureGates(ent *models.UserEntitlements, s *models.UserSettings) []FeatureGate {
	gates := make([]FeatureGate, 0, len(Features))
	for _, f := range Features {
		gates = append(gates, CheckFeatureAccess(ent, s, f))
	}
	return gates
}

// UpgradeRecommendations returns every applicable suggestion. The checks are
// independent of each other.
func UpgradeRecommendations(ent *models.UserEntitlements, s *models.UserSettings) []string {
	recs := []string{}
	if ent == nil || s == nil {
		return recs
	}
	pc := s.ProfileCompleteness
	ready := pc >= MarketplaceCompletenessThreshold

	if !ready {
		recs = append(recs, fmt.Sprintf("Complete your profile to %d%% to unlock marketplace features (currently %d%%, %d%% to go)",
			MarketplaceCompletenessThreshold, pc, MarketplaceCompletenessThreshold-pc))
	}
	if ent.Tier == models.TierFree {
		recs = append(recs, "Upgrade to Starter or Professional to get mentor access")
	}
	if ent.Tier != models.TierProfessional && ready {
		recs = append(recs, "Upgrade to Professional for full marketplace and AI coach access")
	}
	if ready && !s.MarketplaceContactEnabled {
		recs = append(recs, "Enable marketplace contact so employers can reach you")
	}
	return recs
}
