package domain

import "time"

type Participant struct {
	ID           string `json:"_id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	ProfileImage string `json:"profileImage,omitempty"`
}

type Room struct {
	ID           string        `json:"_id"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func (r Room) HasParticipant(accountID string) bool {
	for _, p := range r.Participants {
		if p.ID == accountID {
			return true
		}
	}
	return false
}

type Account struct {
	ID           string
	Name         string
	Email        string
	ProfileImage string
}

func (a Account) Participant() Participant {
	return Participant{
		ID:           a.ID,
		Name:         a.Name,
		Email:        a.Email,
		ProfileImage: a.ProfileImage,
	}
}

type File struct {
	ID           string
	OwnerID      string
	FileName     string
	OriginalName string
	MimeType     string
	Size         int64
}
