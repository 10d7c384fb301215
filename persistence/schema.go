package persistence

// Schema names every table and column the backend touches. Names are
// operator-configurable (spec §4.5) but must already have been validated
// against config.ValidateIdentifier by the time a Schema reaches this
// package — persistence itself performs no further validation, trusting
// the config loader as the sole gate against identifier injection.
type Schema struct {
	TorrentsTable        string
	TorrentsInfoHashCol  string
	TorrentsCompletedCol string
	TorrentsUpdatedCol   string

	WhitelistTable       string
	WhitelistInfoHashCol string

	BlacklistTable       string
	BlacklistInfoHashCol string

	KeysTable      string
	KeysKeyCol     string
	KeysExpiresCol string

	UsersTable         string
	UsersIDCol         string
	UsersExternalIDCol string
	UsersSecretKeyCol  string
	UsersUploadedCol   string
	UsersDownloadedCol string
	UsersCompletedCol  string
}

// DefaultSchema returns the conventional table and column names used when
// an operator does not override them.
func DefaultSchema() Schema {
	return Schema{
		TorrentsTable:        "torrents",
		TorrentsInfoHashCol:  "info_hash",
		TorrentsCompletedCol: "completed",
		TorrentsUpdatedCol:   "updated",

		WhitelistTable:       "whitelist",
		WhitelistInfoHashCol: "info_hash",

		BlacklistTable:       "blacklist",
		BlacklistInfoHashCol: "info_hash",

		KeysTable:      "keys",
		KeysKeyCol:     "key",
		KeysExpiresCol: "expires_at",

		UsersTable:         "users",
		UsersIDCol:         "id",
		UsersExternalIDCol: "external_id",
		UsersSecretKeyCol:  "secret_key",
		UsersUploadedCol:   "uploaded",
		UsersDownloadedCol: "downloaded",
		UsersCompletedCol:  "completed",
	}
}
