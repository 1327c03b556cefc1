package model

type PairingCodeStatus string

const (
	CodeStatusOpen     PairingCodeStatus = "open"
	CodeStatusConsumed PairingCodeStatus = "consumed"
	CodeStatusExpired  PairingCodeStatus = "expired"
)
