package model

import "time"

// Gender values accepted for passengers.
const (
    GenderMale   = "MALE"
    GenderFemale = "FEMALE"
    GenderOther  = "OTHER"
)

// Passenger mirrors a row of the passengers table.  Only Age and HasChild
// influence allocation; the remaining fields are stored as given.
type Passenger struct {
    ID            uint64    `db:"id" json:"id"`
    Name          string    `db:"name" json:"name"`
    Age           int       `db:"age" json:"age"`
    Gender        string    `db:"gender" json:"gender"`
    HasChild      bool      `db:"has_child" json:"has_child"`
    ContactNumber string    `db:"contact_number" json:"contact_number"`
    Email         string    `db:"email" json:"email"`
    CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// IsPriority reports whether the passenger qualifies for the lower-berth
// preference: seniors and adults travelling with a child.
func (p Passenger) IsPriority(seniorAge int) bool {
    return p.Age >= seniorAge || p.HasChild
}
