// Package ocean publishes OCEAN mining pool accounts and workers as host
// entities.
package ocean

const (
	Domain = "ocean"

	Manufacturer     = "OCEAN Mining Pool"
	AccountModel     = "Mining Account"
	WorkerModel      = "Worker"
	ConfigurationURL = "https://ocean.xyz"

	// ExchangeRateEntity holds the BTC price the unpaid USD sensor multiplies by
	ExchangeRateEntity = "sensor.exchange_rate_1_btc"

	UnitTerahash = "TH/s"
	UnitBitcoin  = "BTC"
	UnitDollar   = "$"
)

// Title returns the config entry title for username
func Title(username string) string {
	return "OCEAN Mining (" + username + ")"
}
