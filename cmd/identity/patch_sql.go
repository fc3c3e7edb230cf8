package identity

import (
	"strings"
	"time"
)

// accountColumns is the column list shared by every SELECT/RETURNING.
const accountColumns = `id, username, password, reset_token, reset_token_expiry, remember_me_token, created_at, updated_at`

// updateSQL renders the SET list and arguments for patch.
//
// ph renders the n-th (1-based) placeholder and ts converts time values to the
// driver representation. updated_at is always set first.
func updateSQL(p AccountPatch, now time.Time, ph func(int) string, ts func(time.Time) any) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, col+" = "+ph(len(args)))
	}

	add("updated_at", ts(now))
	if p.PasswordHash != nil {
		add("password", *p.PasswordHash)
	}
	if p.ResetToken.Set {
		add("reset_token", nullString(p.ResetToken.Value))
	}
	if p.ResetTokenExpiry.Set {
		if p.ResetTokenExpiry.Value == nil {
			add("reset_token_expiry", nil)
		} else {
			add("reset_token_expiry", ts(p.ResetTokenExpiry.Value.UTC()))
		}
	}
	if p.RememberMeToken.Set {
		add("remember_me_token", nullString(p.RememberMeToken.Value))
	}

	return strings.Join(sets, ", "), args
}

func nullString(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
