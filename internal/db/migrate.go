package db

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Notification channels written by the row-change triggers below.
const (
	SettingsChangesChannel     = "user_settings_changes"
	SubscriptionChangesChannel = "subscription_changes"
)

// notifyRowChangeSQL sends only the columns that actually changed, so
// listeners can classify the change from the keys present. Payloads near
// the 8000 byte NOTIFY limit keep the keys and drop the values, and a failed notify is
// downgraded to a warning so it never aborts the write.
const notifyRowChangeSQL = `
CREATE OR REPLACE FUNCTION notify_row_change() RETURNS trigger AS $$
DECLARE
    changed JSONB;
    uid UUID;
    payload TEXT;
BEGIN
    IF TG_OP = 'DELETE' THEN
        uid := OLD.user_id;
    ELSE
        uid := NEW.user_id;
    END IF;

    IF TG_OP = 'UPDATE' THEN
        SELECT COALESCE(jsonb_object_agg(n.key, n.value), '{}'::jsonb) INTO changed
        FROM jsonb_each(to_jsonb(NEW)) n
        WHERE n.key NOT IN ('updated_at', 'created_at')
          AND (to_jsonb(OLD) -> n.key) IS DISTINCT FROM n.value;
    ELSIF TG_OP = 'DELETE' THEN
        changed := jsonb_build_object('user_id', uid);
    ELSE
        changed := to_jsonb(NEW);
    END IF;

    payload := json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'user_id', uid, 'record', changed)::text;
    IF octet_length(payload) > 7900 THEN
        SELECT COALESCE(jsonb_object_agg(k, 'null'::jsonb), '{}'::jsonb) INTO changed
        FROM jsonb_object_keys(changed) k;
        payload := json_build_object('table', TG_TABLE_NAME, 'op', TG_OP, 'user_id', uid, 'record', changed)::text;
    END IF;

    BEGIN
        PERFORM pg_notify(TG_ARGV[0], payload);
    EXCEPTION WHEN OTHERS THEN
        RAISE WARNING 'notify_row_change on %: %', TG_TABLE_NAME, SQLERRM;
    END;
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`

func RunMigrations(ctx context.Context, db *sqlx.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id UUID PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    headline TEXT NOT NULL DEFAULT '',
    location TEXT NOT NULL DEFAULT '',
    track TEXT NOT NULL DEFAULT '' CHECK (track IN ('', 'defender', 'attacker', 'analyst', 'architect', 'manager')),
    avatar_uploaded BOOLEAN NOT NULL DEFAULT false,
    linkedin_linked BOOLEAN NOT NULL DEFAULT false,
    bio_completed BOOLEAN NOT NULL DEFAULT false,
    timezone_set TEXT NOT NULL DEFAULT '',
    language_preference TEXT NOT NULL DEFAULT 'en',
    profile_completeness INTEGER NOT NULL DEFAULT 0 CHECK (profile_completeness BETWEEN 0 AND 100),
    portfolio_visibility TEXT NOT NULL DEFAULT 'private' CHECK (portfolio_visibility IN ('private', 'unlisted', 'marketplace_preview', 'public')),
    marketplace_contact_enabled BOOLEAN NOT NULL DEFAULT false,
    data_sharing_consent JSONB NOT NULL DEFAULT '{}'::jsonb,
    notifications_email BOOLEAN NOT NULL DEFAULT true,
    notifications_push BOOLEAN NOT NULL DEFAULT true,
    notifications_categories JSONB NOT NULL DEFAULT '{}'::jsonb,
    ai_coach_style TEXT NOT NULL DEFAULT 'motivational' CHECK (ai_coach_style IN ('motivational', 'direct', 'analytical')),
    habit_frequency TEXT NOT NULL DEFAULT 'daily' CHECK (habit_frequency IN ('daily', 'weekly')),
    reflection_prompt_style TEXT NOT NULL DEFAULT 'guided' CHECK (reflection_prompt_style IN ('guided', 'freeform', 'structured')),
    integrations JSONB NOT NULL DEFAULT '{}'::jsonb,
    two_factor_enabled BOOLEAN NOT NULL DEFAULT false,
    active_sessions JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_entitlements (
    user_id UUID PRIMARY KEY,
    tier TEXT NOT NULL DEFAULT 'free' CHECK (tier IN ('free', 'starter', 'professional')),
    subscription_status TEXT NOT NULL DEFAULT 'inactive' CHECK (subscription_status IN ('active', 'inactive', 'cancelled', 'past_due')),
    enhanced_access_until TIMESTAMPTZ,
    next_billing_date TIMESTAMPTZ,
    marketplace_full_access BOOLEAN NOT NULL DEFAULT false,
    ai_coach_full_access BOOLEAN NOT NULL DEFAULT false,
    mentor_access BOOLEAN NOT NULL DEFAULT false,
    portfolio_export_enabled BOOLEAN NOT NULL DEFAULT false,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id SERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    plan TEXT NOT NULL,
    status TEXT NOT NULL,
    current_period_end TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_subscriptions_user_id ON subscriptions (user_id);

CREATE TABLE IF NOT EXISTS portfolio_items (
    id SERIAL PRIMARY KEY,
    user_id UUID NOT NULL,
    title TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'draft',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_portfolio_items_user_status ON portfolio_items (user_id, status);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}

	triggers := notifyRowChangeSQL + `
DROP TRIGGER IF EXISTS user_settings_notify ON user_settings;
CREATE TRIGGER user_settings_notify AFTER INSERT OR UPDATE ON user_settings
    FOR EACH ROW EXECUTE FUNCTION notify_row_change('` + SettingsChangesChannel + `');

DROP TRIGGER IF EXISTS subscriptions_notify ON subscriptions;
CREATE TRIGGER subscriptions_notify AFTER INSERT OR UPDATE OR DELETE ON subscriptions
    FOR EACH ROW EXECUTE FUNCTION notify_row_change('` + SubscriptionChangesChannel + `');

DROP TRIGGER IF EXISTS user_entitlements_notify ON user_entitlements;
CREATE TRIGGER user_entitlements_notify AFTER INSERT OR UPDATE OR DELETE ON user_entitlements
    FOR EACH ROW EXECUTE FUNCTION notify_row_change('` + SubscriptionChangesChannel + `');
`
	_, err := db.ExecContext(ctx, triggers)
	return err
}
