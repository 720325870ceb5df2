// Package flow implements the conversational state machine that collects
// trip details one message at a time.
//
// The machine itself is pure: Transition consumes one inbound text value
// for the session's current step and either stores it and advances, or
// re-prompts without advancing. All side effects (storage, pricing, CRM
// sync, outbound sends) live in the Engine.
package flow

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/pacific-gateway/tripbot/internal/models"
)

// dateLayout is the only accepted calendar date format.
const dateLayout = "2006-01-02"

// Age bounds in years on the travel date. Child is [2, 12), infant [0, 2].
const (
	childAgeMin  = 2.0
	childAgeMax  = 12.0
	infantAgeMax = 2.0
)

// daysPerYear converts a day span to fractional years.
const daysPerYear = 365.25

// ReplyOption is a quick-reply choice offered alongside a prompt. The
// transport layer renders options as buttons where the channel supports them.
type ReplyOption struct {
	Title   string
	Payload string
}

// Reply is the single outbound message a transition or prompt produces.
type Reply struct {
	Text    string
	Options []ReplyOption
}

// Transition consumes one inbound value for the session's current step.
// It mutates the session in place and returns the reply to send. done is
// true once the final step has been consumed and the engine should price
// the trip and finalize.
func Transition(s *models.Session, input string) (reply Reply, done bool) {
	input = strings.TrimSpace(input)

	switch s.Step {
	case models.StepIntent:
		return transitionIntent(s, input), false
	case models.StepDestination:
		if input == "" {
			return Reply{Text: "Please tell me where you would like to fly to."}, false
		}
		s.Destination = strings.ToUpper(input)
		s.Step = models.StepOrigin
		return Prompt(s), false
	case models.StepOrigin:
		if input == "" {
			return Reply{Text: "Please tell me where you will be flying from."}, false
		}
		s.Origin = strings.ToUpper(input)
		s.Step = models.StepDepartDate
		return Prompt(s), false
	case models.StepDepartDate:
		if _, err := parseDate(input); err != nil {
			return Reply{Text: "That date doesn't look right. Please use YYYY-MM-DD, e.g. 2026-10-01."}, false
		}
		s.DepartDate = input
		s.Step = models.StepTripType
		return Prompt(s), false
	case models.StepTripType:
		return transitionTripType(s, input), false
	case models.StepReturnDate:
		return transitionReturnDate(s, input), false
	case models.StepName:
		if input == "" {
			return Reply{Text: "Please type your full name."}, false
		}
		s.Name = input
		s.NameConfirmed = false
		s.Step = models.StepNameConfirm
		return Prompt(s), false
	case models.StepNameConfirm:
		return transitionNameConfirm(s, input), false
	case models.StepPhone:
		if input == "" {
			return Reply{Text: "Please type a phone number we can reach you on."}, false
		}
		s.Phone = input
		s.Step = models.StepTotalPax
		return Prompt(s), false
	case models.StepTotalPax:
		s.TotalPax = coerceCount(input, 0)
		s.Step = models.StepAdults
		return Prompt(s), false
	case models.StepAdults:
		n := coerceCount(input, 1)
		if n < 1 {
			n = 1
		}
		s.Adults = n
		s.Step = models.StepChildren
		return Prompt(s), false
	case models.StepChildren:
		s.Children = coerceCount(input, 0)
		s.Step = models.StepInfants
		return Prompt(s), false
	case models.StepInfants:
		s.Infants = coerceCount(input, 0)
		s.Step = models.StepStudents
		return Prompt(s), false
	case models.StepStudents:
		s.Students = coerceCount(input, 0)
		s.Step = afterPassengerCounts(s)
		return Prompt(s), false
	case models.StepChildDOB:
		return transitionChildDOB(s, input), false
	case models.StepInfantDOB:
		return transitionInfantDOB(s, input), false
	case models.StepAirline:
		s.AirlinePref = MatchAirline(input)
		return Reply{}, true
	default:
		// Unknown step: restart the machine rather than wedge the session.
		s.Step = models.StepIntent
		return Prompt(s), false
	}
}

func transitionIntent(s *models.Session, input string) Reply {
	switch classifyChoice(input, "price", "book") {
	case 1:
		s.Intent = models.IntentPriceOnly
	case 2:
		s.Intent = models.IntentBooking
	default:
		return Reply{
			Text:    "Sorry, I didn't catch that. Would you like a price estimate or to book a flight?",
			Options: intentOptions(),
		}
	}
	s.Step = models.StepDestination
	return Prompt(s)
}

func transitionTripType(s *models.Session, input string) Reply {
	switch classifyChoice(input, "one", "round", "return") {
	case 1:
		s.RoundTrip = false
		s.ReturnDate = ""
		s.Step = afterTripDates(s)
	case 2:
		s.RoundTrip = true
		s.Step = models.StepReturnDate
	default:
		return Reply{
			Text:    "Is this a one-way or round trip?",
			Options: tripTypeOptions(),
		}
	}
	return Prompt(s)
}

func transitionReturnDate(s *models.Session, input string) Reply {
	ret, err := parseDate(input)
	if err != nil {
		return Reply{Text: "That date doesn't look right. Please use YYYY-MM-DD, e.g. 2026-10-08."}
	}
	if err := validateReturnAfter(s.DepartDate, ret); err != nil {
		return Reply{Text: fmt.Sprintf("The return date must be after your departure on %s. Please try again.", s.DepartDate)}
	}
	s.ReturnDate = input
	s.Step = afterTripDates(s)
	return Prompt(s)
}

func transitionNameConfirm(s *models.Session, input string) Reply {
	switch classifyChoice(input, "yes", "no") {
	case 1:
		s.NameConfirmed = true
		s.Step = models.StepPhone
	case 2:
		s.Name = ""
		s.Step = models.StepName
		return Reply{Text: "No problem. What is your full name?"}
	default:
		return Reply{
			Text:    fmt.Sprintf("Just to confirm, is your name %s?", s.Name),
			Options: yesNoOptions(),
		}
	}
	return Prompt(s)
}

func transitionChildDOB(s *models.Session, input string) Reply {
	birth, err := parseDate(input)
	if err != nil {
		return Reply{Text: "Please enter the birth date as YYYY-MM-DD."}
	}
	if err := validateChildAge(birth, s.DepartDate); err != nil {
		slot := len(s.ChildBirthDates) + 1
		return Reply{Text: fmt.Sprintf("Child %d must be between 2 and 12 years old on the travel date. Please re-enter the birth date.", slot)}
	}
	s.ChildBirthDates = append(s.ChildBirthDates, input)
	if len(s.ChildBirthDates) < s.Children {
		return Prompt(s)
	}
	if s.Infants > 0 {
		s.Step = models.StepInfantDOB
	} else {
		s.Step = models.StepAirline
	}
	return Prompt(s)
}

func transitionInfantDOB(s *models.Session, input string) Reply {
	birth, err := parseDate(input)
	if err != nil {
		return Reply{Text: "Please enter the birth date as YYYY-MM-DD."}
	}
	if err := validateInfantAge(birth, s.DepartDate); err != nil {
		slot := len(s.InfantBirthDates) + 1
		return Reply{Text: fmt.Sprintf("Infant %d must be under 2 years old on the travel date. Please re-enter the birth date.", slot)}
	}
	s.InfantBirthDates = append(s.InfantBirthDates, input)
	if len(s.InfantBirthDates) < s.Infants {
		return Prompt(s)
	}
	s.Step = models.StepAirline
	return Prompt(s)
}

// afterTripDates picks the step that follows the trip-date branch: booking
// sessions collect contact details first, price-only sessions go straight
// to passenger counts.
func afterTripDates(s *models.Session) models.Step {
	if s.Intent == models.IntentBooking {
		return models.StepName
	}
	return models.StepTotalPax
}

// afterPassengerCounts picks the step that follows the count questions,
// skipping birth-date collection when there are no children or infants.
func afterPassengerCounts(s *models.Session) models.Step {
	if s.Children > 0 {
		return models.StepChildDOB
	}
	if s.Infants > 0 {
		return models.StepInfantDOB
	}
	return models.StepAirline
}

// Prompt returns the question for the session's current step.
func Prompt(s *models.Session) Reply {
	switch s.Step {
	case models.StepIntent:
		return Reply{
			Text:    "Welcome to Pacific Gateway Travel! Would you like a price estimate or to book a flight?",
			Options: intentOptions(),
		}
	case models.StepDestination:
		return Reply{Text: "Where would you like to fly to?"}
	case models.StepOrigin:
		return Reply{Text: "Where will you be flying from?"}
	case models.StepDepartDate:
		return Reply{Text: "When do you want to depart? (YYYY-MM-DD)"}
	case models.StepTripType:
		return Reply{Text: "Is this a one-way or round trip?", Options: tripTypeOptions()}
	case models.StepReturnDate:
		return Reply{Text: "When will you return? (YYYY-MM-DD)"}
	case models.StepName:
		return Reply{Text: "What is your full name?"}
	case models.StepNameConfirm:
		return Reply{
			Text:    fmt.Sprintf("Just to confirm, is your name %s?", s.Name),
			Options: yesNoOptions(),
		}
	case models.StepPhone:
		return Reply{Text: "What phone number can we reach you on?"}
	case models.StepTotalPax:
		return Reply{Text: "How many passengers are travelling in total?"}
	case models.StepAdults:
		return Reply{Text: "How many adults?"}
	case models.StepChildren:
		return Reply{Text: "How many children (2-11 years)?"}
	case models.StepInfants:
		return Reply{Text: "How many infants (under 2)?"}
	case models.StepStudents:
		return Reply{Text: "How many students?"}
	case models.StepChildDOB:
		slot := len(s.ChildBirthDates) + 1
		return Reply{Text: fmt.Sprintf("What is the birth date of child %d? (YYYY-MM-DD)", slot)}
	case models.StepInfantDOB:
		slot := len(s.InfantBirthDates) + 1
		return Reply{Text: fmt.Sprintf("What is the birth date of infant %d? (YYYY-MM-DD)", slot)}
	case models.StepAirline:
		return Reply{
			Text: "Do you have a preferred airline?",
			Options: []ReplyOption{
				{Title: "Air Niugini", Payload: "1"},
				{Title: "PNG Air", Payload: "2"},
				{Title: "Any airline", Payload: "any"},
			},
		}
	case models.StepSyncPending:
		return Reply{Text: "We're still confirming your booking. One moment please."}
	default:
		return Reply{Text: "Let's start over. Would you like a price estimate or to book a flight?", Options: intentOptions()}
	}
}

func intentOptions() []ReplyOption {
	return []ReplyOption{
		{Title: "Price estimate", Payload: "1"},
		{Title: "Book a flight", Payload: "2"},
	}
}

func tripTypeOptions() []ReplyOption {
	return []ReplyOption{
		{Title: "One-way", Payload: "1"},
		{Title: "Round trip", Payload: "2"},
	}
}

func yesNoOptions() []ReplyOption {
	return []ReplyOption{
		{Title: "Yes", Payload: "yes"},
		{Title: "No", Payload: "no"},
	}
}

// parseDate parses a strict YYYY-MM-DD calendar date.
func parseDate(v string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, models.ErrInvalidDate
	}
	return t, nil
}

// ageYearsOn computes fractional age in years on the travel date. A travel
// date that fails to parse yields the age relative to today, which keeps
// the gate usable rather than rejecting everything.
func ageYearsOn(birth time.Time, travelDate string) float64 {
	ref, err := parseDate(travelDate)
	if err != nil {
		ref = time.Now()
	}
	days := ref.Sub(birth).Hours() / 24
	return days / daysPerYear
}

// validateReturnAfter enforces that the return date falls strictly after
// the departure date. An unparseable departure date is not re-litigated at
// this step.
func validateReturnAfter(departDate string, ret time.Time) error {
	dep, err := parseDate(departDate)
	if err != nil {
		return nil
	}
	if !ret.After(dep) {
		return models.ErrReturnNotAfter
	}
	return nil
}

// validateChildAge gates a child birth date to [2, 12) years on the travel
// date.
func validateChildAge(birth time.Time, travelDate string) error {
	age := ageYearsOn(birth, travelDate)
	if age < childAgeMin || age >= childAgeMax {
		return models.ErrAgeOutOfRange
	}
	return nil
}

// validateInfantAge gates an infant birth date to [0, 2] years on the
// travel date. Negative ages mean a birth date after travel.
func validateInfantAge(birth time.Time, travelDate string) error {
	age := ageYearsOn(birth, travelDate)
	if age < 0 || age > infantAgeMax {
		return models.ErrAgeOutOfRange
	}
	return nil
}

// coerceCount parses a passenger count. Non-digit input falls back to the
// step's default instead of re-prompting.
func coerceCount(input string, def int) int {
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	for _, r := range input {
		if !unicode.IsDigit(r) {
			return def
		}
	}
	n := 0
	for _, r := range input {
		n = n*10 + int(r-'0')
		if n > 1000 {
			return def
		}
	}
	return n
}

// classifyChoice maps free text or a button payload onto a binary choice:
// "1" or a word containing the first keyword set returns 1, "2" or the
// second set returns 2, anything else 0.
func classifyChoice(input string, firstWord string, secondWords ...string) int {
	v := strings.ToLower(strings.TrimSpace(input))
	if v == "" {
		return 0
	}
	if v == "1" || strings.Contains(v, firstWord) {
		return 1
	}
	if v == "2" {
		return 2
	}
	for _, w := range secondWords {
		if strings.Contains(v, w) {
			return 2
		}
	}
	return 0
}

// MatchAirline maps free-text airline preference onto a carrier code.
// Unrecognized input means no preference and returns the empty string.
func MatchAirline(input string) string {
	v := strings.ToLower(strings.TrimSpace(input))
	switch {
	case v == "1" || v == "626" || strings.Contains(v, "px") || strings.Contains(v, "niugini"):
		return "626"
	case v == "2" || v == "656" || strings.Contains(v, "cg") || strings.Contains(v, "png"):
		return "656"
	default:
		return ""
	}
}
