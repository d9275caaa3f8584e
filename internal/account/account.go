// Package account resolves a gateway Config + optional account id into
// the fully-merged Account the client and policy engine operate on
// (spec.md §4.3).
package account

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"mellium.im/xmpp/jid"

	"github.com/chatbridge/xmppchannel/internal/config"
)

// PasswordSource records where an account's password came from, per
// spec.md §3.
type PasswordSource string

const (
	SourceEnv          PasswordSource = "env"
	SourcePasswordFile PasswordSource = "passwordFile"
	SourceConfig       PasswordSource = "config"
	SourceNone         PasswordSource = "none"
)

const defaultAccountID = "default"
const defaultResource = "xmppchannel"

// Account is the fully resolved, ready-to-connect account (spec.md §3).
type Account struct {
	AccountID      string
	BareJID        string
	Resource       string
	Host           string
	Port           int
	TLS            bool
	Password       string
	PasswordSource PasswordSource
	Enabled        bool
	Configured     bool
	Config         config.AccountConfig
}

// Resolve implements spec.md §4.3's six-step algorithm.
func Resolve(cfg *config.Config, accountID string) (Account, error) {
	xmpp := cfg.Channels.XMPP

	accountID = normalizeID(accountID)
	if accountID == "" {
		accountID = defaultAccountID
	}

	acct, err := resolveOne(xmpp, accountID)
	if err != nil {
		return Account{}, err
	}

	// Step 6: if a requested non-default account isn't configured, fall
	// back to "default" when that one resolves as configured. Every
	// non-default id is treated this way; Resolve has no option to pin an
	// id so that it is returned unconfigured instead of falling back.
	if !acct.Configured && accountID != defaultAccountID {
		fallback, err := resolveOne(xmpp, defaultAccountID)
		if err != nil {
			return Account{}, err
		}
		if fallback.Configured {
			return fallback, nil
		}
	}

	return acct, nil
}

// Validate resolves every configured account id and reports every
// validation error found (spec.md §6/§7: dmPolicy=open without "*" in
// allowFrom is rejected at config-validation time, not silently
// accepted). A caller that wants fail-fast behavior should treat a
// non-empty return as fatal.
func Validate(cfg *config.Config) []error {
	var errs []error
	for _, id := range ListAccountIDs(cfg) {
		if _, err := Resolve(cfg, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// ListAccountIDs returns the configured account ids, or {"default"} when
// the config carries no channels.xmpp.accounts map (step 1).
func ListAccountIDs(cfg *config.Config) []string {
	accounts := cfg.Channels.XMPP.Accounts
	if len(accounts) == 0 {
		return []string{defaultAccountID}
	}
	ids := make([]string, 0, len(accounts))
	for id := range accounts {
		ids = append(ids, id)
	}
	return ids
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// resolveOne merges base + per-account config (account wins), resolves
// the password by precedence, and resolves JID/host/port/tls with env
// fallback only for the default account (steps 2-5).
func resolveOne(xmpp config.XMPPConfig, accountID string) (Account, error) {
	base := xmpp.AccountConfig
	merged := base
	if override, ok := xmpp.Accounts[accountID]; ok {
		merged = mergeAccountConfig(base, override)
	}

	isDefault := accountID == defaultAccountID

	jidStr := merged.JID
	if jidStr == "" && isDefault {
		jidStr = os.Getenv("XMPP_JID")
	}

	host := merged.Host
	if host == "" && isDefault {
		host = os.Getenv("XMPP_HOST")
	}

	port := merged.Port
	if port == 0 && isDefault {
		if p, err := strconv.Atoi(os.Getenv("XMPP_PORT")); err == nil {
			port = p
		}
	}
	if port == 0 {
		port = 5222
	}

	useTLS := true
	if merged.TLS != nil {
		useTLS = *merged.TLS
	} else if isDefault {
		if v := os.Getenv("XMPP_TLS"); v != "" {
			useTLS = v != "false" && v != "0"
		}
	}

	resource := merged.Resource
	if resource == "" {
		resource = defaultResource
	}

	if isDefault && len(merged.AutoJoinRooms) == 0 {
		if rooms := os.Getenv("XMPP_ROOMS"); rooms != "" {
			merged.AutoJoinRooms = strings.Split(rooms, ",")
		}
	}

	password, source := resolvePassword(merged, isDefault)

	bareJID := jidStr
	if parsed, err := jid.Parse(jidStr); err == nil {
		bareJID = parsed.Bare().String()
		if host == "" {
			host = parsed.Domain().String()
		}
	}

	if err := validateDMPolicy(xmpp, accountID, merged); err != nil {
		return Account{}, err
	}

	return Account{
		AccountID:      accountID,
		BareJID:        bareJID,
		Resource:       resource,
		Host:           host,
		Port:           port,
		TLS:            useTLS,
		Password:       password,
		PasswordSource: source,
		Enabled:        true,
		Configured:     bareJID != "" && password != "",
		Config:         merged,
	}, nil
}

// validateDMPolicy implements spec.md §6/§7's config-validation rule:
// dmPolicy=open requires "*" in the effective allowFrom. The policy
// engine's DM gate admits every sender under dmPolicy=open without
// consulting allowFrom, so this check is the only place the wildcard is
// required. The error names the exact TOML path so operators can find
// the offending key.
func validateDMPolicy(xmpp config.XMPPConfig, accountID string, merged config.AccountConfig) error {
	dmPolicy := merged.DMPolicy
	if dmPolicy == "" {
		dmPolicy = DefaultDMPolicy
	}
	if dmPolicy != "open" {
		return nil
	}
	for _, entry := range merged.AllowFrom {
		if entry == "*" {
			return nil
		}
	}
	path := "channels.xmpp.allow_from"
	if _, overridden := xmpp.Accounts[accountID]; overridden {
		path = fmt.Sprintf("channels.xmpp.accounts.%s.allow_from", accountID)
	}
	return fmt.Errorf("%s: dmPolicy=open requires \"*\" in allowFrom", path)
}

// resolvePassword implements step 3's precedence: env (default account
// only) → passwordFile (read + trim) → inline password → none.
func resolvePassword(cfg config.AccountConfig, isDefault bool) (string, PasswordSource) {
	if isDefault {
		if v := os.Getenv("XMPP_PASSWORD"); v != "" {
			return v, SourceEnv
		}
	}
	if cfg.PasswordFile != "" {
		data, err := os.ReadFile(cfg.PasswordFile)
		if err == nil {
			return strings.TrimSpace(string(data)), SourcePasswordFile
		}
	}
	if cfg.Password != "" {
		return cfg.Password, SourceConfig
	}
	return "", SourceNone
}

// mergeAccountConfig overlays override onto base field-by-field;
// override wins whenever it sets a non-zero value.
func mergeAccountConfig(base, override config.AccountConfig) config.AccountConfig {
	merged := base

	if override.JID != "" {
		merged.JID = override.JID
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.PasswordFile != "" {
		merged.PasswordFile = override.PasswordFile
	}
	if override.Resource != "" {
		merged.Resource = override.Resource
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.TLS != nil {
		merged.TLS = override.TLS
	}
	if override.DMPolicy != "" {
		merged.DMPolicy = override.DMPolicy
	}
	if len(override.AllowFrom) > 0 {
		merged.AllowFrom = override.AllowFrom
	}
	if override.GroupPolicy != "" {
		merged.GroupPolicy = override.GroupPolicy
	}
	if len(override.GroupAllowFrom) > 0 {
		merged.GroupAllowFrom = override.GroupAllowFrom
	}
	if len(override.Rooms) > 0 {
		merged.Rooms = override.Rooms
	}
	if len(override.AutoJoinRooms) > 0 {
		merged.AutoJoinRooms = override.AutoJoinRooms
	}
	if len(override.MentionPatterns) > 0 {
		merged.MentionPatterns = override.MentionPatterns
	}
	if override.Markdown {
		merged.Markdown = override.Markdown
	}
	if override.HistoryLimit != 0 {
		merged.HistoryLimit = override.HistoryLimit
	}
	if override.ResponsePrefix != "" {
		merged.ResponsePrefix = override.ResponsePrefix
	}
	if override.BlockStreaming {
		merged.BlockStreaming = override.BlockStreaming
	}

	return merged
}

// DMPolicy and GroupPolicy default to these values when unset, per
// spec.md §3.
const (
	DefaultDMPolicy    = "pairing"
	DefaultGroupPolicy = "allowlist"
)

// EffectiveDMPolicy returns a.Config.DMPolicy or the default.
func (a Account) EffectiveDMPolicy() string {
	if a.Config.DMPolicy == "" {
		return DefaultDMPolicy
	}
	return a.Config.DMPolicy
}

// EffectiveGroupPolicy returns a.Config.GroupPolicy or the default.
func (a Account) EffectiveGroupPolicy() string {
	if a.Config.GroupPolicy == "" {
		return DefaultGroupPolicy
	}
	return a.Config.GroupPolicy
}
