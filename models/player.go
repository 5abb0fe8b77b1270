package models

type Player struct {
	ID     string `json:"id"`
	TeamID string `json:"team_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
	Number int    `json:"number"`
	Phone  string `json:"phone"`
	Email  string `json:"email"`
}
