package config

const (
	// EnvPrefix is the envconfig prefix; variables carry it explicitly in tags.
	EnvPrefix = ""

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "WASHPAY_DB_DSN"
	EnvDBHost = "WASHPAY_DB_HOST"
	EnvDBUser = "WASHPAY_DB_USER"
	EnvDBName = "WASHPAY_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
