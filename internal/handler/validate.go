package handler

import (
    "errors"
    "reflect"
    "regexp"
    "strings"

    "github.com/go-playground/validator/v10"

    "github.com/iliyamo/railway-reservation/internal/booking"
    "github.com/iliyamo/railway-reservation/internal/model"
)

var contactPattern = regexp.MustCompile(`^\+?[\d\s-]{8,}$`)

// passengerInput is the JSON body of POST /tickets/book.
type passengerInput struct {
    Name          string      `json:"name" validate:"required,min=2,max=50"`
    Age           *int        `json:"age" validate:"required,gte=0,lte=120"`
    Gender        string      `json:"gender" validate:"required,oneof=MALE FEMALE OTHER"`
    ContactNumber string      `json:"contactNumber" validate:"required,contact"`
    Email         string      `json:"email" validate:"required,email"`
    HasChild      bool        `json:"hasChild"`
    Child         *childInput `json:"childPassenger" validate:"required_if=HasChild true"`
}

// childInput only needs an age; at or above the limit is reported by the
// service as an invalid dependent.
type childInput struct {
    Name   string `json:"name" validate:"required,min=2,max=50"`
    Age    *int   `json:"age" validate:"required,gte=0"`
    Gender string `json:"gender" validate:"required,oneof=MALE FEMALE OTHER"`
}

type bookRequest struct {
    Passenger *passengerInput `json:"passenger" validate:"required"`
}

// RequestValidator adapts go-playground/validator to echo.Validator.
type RequestValidator struct {
    v *validator.Validate
}

// NewRequestValidator registers the json field names and the "contact" tag.
func NewRequestValidator() *RequestValidator {
    v := validator.New()
    v.RegisterTagNameFunc(func(f reflect.StructField) string {
        name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
        if name == "-" {
            return ""
        }
        return name
    })
    _ = v.RegisterValidation("contact", func(fl validator.FieldLevel) bool {
        return contactPattern.MatchString(fl.Field().String())
    })
    return &RequestValidator{v: v}
}

// Validate implements echo.Validator.
func (rv *RequestValidator) Validate(i interface{}) error {
    return rv.v.Struct(i)
}

var fieldMessages = map[string]string{
    "passenger":                       "passenger is required",
    "passenger.name":                  "Name must be between 2 and 50 characters",
    "passenger.age":                   "Age must be between 0 and 120",
    "passenger.gender":                "Gender must be MALE, FEMALE, or OTHER",
    "passenger.contactNumber":         "Invalid contact number format",
    "passenger.email":                 "Invalid email format",
    "passenger.childPassenger":        "Child details are required when hasChild is true",
    "passenger.childPassenger.name":   "Child name must be between 2 and 50 characters",
    "passenger.childPassenger.age":    "Child age is required",
    "passenger.childPassenger.gender": "Child gender must be MALE, FEMALE, or OTHER",
}

// fieldErrors turns validator output into the response shape.  It returns
// nil when err is not a validation failure.
func fieldErrors(err error) []*booking.ValidationError {
    var ves validator.ValidationErrors
    if !errors.As(err, &ves) {
        return nil
    }
    out := make([]*booking.ValidationError, 0, len(ves))
    for _, fe := range ves {
        // Namespace is "bookRequest.passenger.name"; drop the type name.
        field := fe.Namespace()
        if i := strings.IndexByte(field, '.'); i >= 0 {
            field = field[i+1:]
        }
        msg, ok := fieldMessages[field]
        if !ok {
            msg = "failed " + fe.Tag() + " check"
        }
        out = append(out, &booking.ValidationError{Field: field, Message: msg})
    }
    return out
}

// normalize trims the text fields and upper-cases genders before
// validation.  A child sent with hasChild false is ignored.
func (r *bookRequest) normalize() {
    p := r.Passenger
    if p == nil {
        return
    }
    p.Name = strings.TrimSpace(p.Name)
    p.Gender = strings.ToUpper(strings.TrimSpace(p.Gender))
    p.ContactNumber = strings.TrimSpace(p.ContactNumber)
    p.Email = strings.ToLower(strings.TrimSpace(p.Email))
    if !p.HasChild {
        p.Child = nil
    }
    if c := p.Child; c != nil {
        c.Name = strings.TrimSpace(c.Name)
        c.Gender = strings.ToUpper(strings.TrimSpace(c.Gender))
    }
}

// admitRequest converts a validated body.
func (r *bookRequest) admitRequest() booking.AdmitRequest {
    p := r.Passenger
    req := booking.AdmitRequest{Passenger: model.Passenger{
        Name:          p.Name,
        Age:           *p.Age,
        Gender:        p.Gender,
        ContactNumber: p.ContactNumber,
        Email:         p.Email,
        HasChild:      p.HasChild,
    }}
    if c := p.Child; c != nil {
        req.Child = &model.Passenger{
            Name:          c.Name,
            Age:           *c.Age,
            Gender:        c.Gender,
            ContactNumber: p.ContactNumber,
            Email:         p.Email,
        }
    }
    return req
}
