package domain

import "time"

type Identity struct {
	Address   Address   `json:"address"`
	PubKey    string    `json:"pubkey,omitempty"`
	Name      string    `json:"name,omitempty"`
	Plan      PlanName  `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
}

type Contact struct {
	Owner         Address   `json:"-"`
	Address       Address   `json:"address"`
	Name          string    `json:"name,omitempty"`
	AlwaysAllowed bool      `json:"alwaysAllowed"`
	AddedAt       time.Time `json:"addedAt"`
}
