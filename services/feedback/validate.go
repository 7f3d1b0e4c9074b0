package feedback

import (
	"fmt"
	"strings"
)

// ValidateRating checks that a score lies in the accepted range.
func ValidateRating(field string, rating int) error {
	if rating < MinRating || rating > MaxRating {
		return invalid(field, fmt.Sprintf("rating must be between %d and %d, got %d", MinRating, MaxRating, rating))
	}
	return nil
}

// NormalizeEmployeeRatings validates a ratings list and returns a copy with
// trimmed ids. Comments are kept as submitted.
func NormalizeEmployeeRatings(ratings []EmployeeRating) ([]EmployeeRating, error) {
	if len(ratings) == 0 {
		return nil, invalid("employeeRatings", "at least one rating is required")
	}
	out := make([]EmployeeRating, 0, len(ratings))
	for i, r := range ratings {
		field := fmt.Sprintf("employeeRatings[%d]", i)
		id := strings.TrimSpace(r.EmployeeID)
		if id == "" {
			return nil, invalid(field+".employeeId", "is required")
		}
		if err := ValidateRating(field+".rating", r.Rating); err != nil {
			return nil, err
		}
		out = append(out, EmployeeRating{
			EmployeeID: id,
			Rating:     r.Rating,
			Comment:    r.Comment,
		})
	}
	return out, nil
}
