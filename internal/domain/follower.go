package domain

import "time"

// FollowerGrowth is the number of Instagram followers gained on one day.
type FollowerGrowth struct {
	IGAccountID string    `json:"ig_account_id"`
	Date        time.Time `json:"data_registro"`
	Gained      int64     `json:"seguidores_ganhos"`
}
