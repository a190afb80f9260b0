package students

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// NameParts is a full name split for display in first/last name columns.
type NameParts struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// SplitFullName puts the first word in FirstName and the remaining words, joined by single
// spaces, in LastName.
func SplitFullName(full string) NameParts {
	words := strings.Fields(full)
	switch len(words) {
	case 0:
		return NameParts{}
	case 1:
		return NameParts{FirstName: words[0]}
	}
	return NameParts{FirstName: words[0], LastName: strings.Join(words[1:], " ")}
}

// JoinName is the inverse of SplitFullName.
func JoinName(p NameParts) string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// DugsiRegistration is the flat view of one child used by the admin tables.
type DugsiRegistration struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	FirstName         string     `json:"firstName"`
	LastName          string     `json:"lastName"`
	Gender            string     `json:"gender,omitempty"`
	DateOfBirth       string     `json:"dateOfBirth,omitempty"`
	GradeLevel        string     `json:"gradeLevel,omitempty"`
	SchoolName        string     `json:"schoolName,omitempty"`
	HealthInfo        string     `json:"healthInfo,omitempty"`
	Status            Status     `json:"status"`
	FamilyReferenceID string     `json:"familyReferenceId,omitempty"`
	WithdrawalReason  string     `json:"withdrawalReason,omitempty"`
	WithdrawalNote    string     `json:"withdrawalNote,omitempty"`
	WithdrawnAt       *time.Time `json:"withdrawnAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`

	ParentFirstName  string `json:"parentFirstName"`
	ParentLastName   string `json:"parentLastName"`
	ParentEmail      string `json:"parentEmail"`
	ParentPhone      string `json:"parentPhone"`
	Parent2FirstName string `json:"parent2FirstName,omitempty"`
	Parent2LastName  string `json:"parent2LastName,omitempty"`
	Parent2Email     string `json:"parent2Email,omitempty"`
	Parent2Phone     string `json:"parent2Phone,omitempty"`

	StripeCustomerID     string     `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID string     `json:"stripeSubscriptionId,omitempty"`
	SubscriptionStatus   string     `json:"subscriptionStatus,omitempty"`
	SubscriptionAmount   int64      `json:"subscriptionAmount,omitempty"`
	PaidUntil            *time.Time `json:"paidUntil,omitempty"`
}

func ToRegistration(g ProfileGraph) DugsiRegistration {
	name := SplitFullName(g.Name)
	reg := DugsiRegistration{
		ID:                   g.ID,
		Name:                 g.Name,
		FirstName:            name.FirstName,
		LastName:             name.LastName,
		Gender:               g.Gender.String,
		GradeLevel:           g.GradeLevel.String,
		SchoolName:           g.SchoolName.String,
		HealthInfo:           g.HealthInfo.String,
		Status:               g.Status,
		FamilyReferenceID:    g.FamilyReferenceID.String,
		WithdrawalReason:     g.WithdrawalReason.String,
		WithdrawalNote:       g.WithdrawalNote.String,
		CreatedAt:            g.CreatedAt,
		StripeCustomerID:     g.StripeCustomerID.String,
		StripeSubscriptionID: g.StripeSubscriptionID.String,
		SubscriptionStatus:   g.SubscriptionStatus.String,
		SubscriptionAmount:   g.SubscriptionAmount.Int64,
	}
	if g.DateOfBirth.Valid {
		reg.DateOfBirth = g.DateOfBirth.Time.Format("2006-01-02")
	}
	if g.WithdrawnAt.Valid {
		t := g.WithdrawnAt.Time
		reg.WithdrawnAt = &t
	}
	if g.PaidUntil.Valid {
		t := g.PaidUntil.Time
		reg.PaidUntil = &t
	}
	if p := g.Primary(); p != nil {
		parts := SplitFullName(p.Name)
		reg.ParentFirstName, reg.ParentLastName = parts.FirstName, parts.LastName
		reg.ParentEmail, reg.ParentPhone = p.Email.String, p.Phone.String
	}
	if s := g.Secondary(); s != nil {
		parts := SplitFullName(s.Name)
		reg.Parent2FirstName, reg.Parent2LastName = parts.FirstName, parts.LastName
		reg.Parent2Email, reg.Parent2Phone = s.Email.String, s.Phone.String
	}
	return reg
}

func ToRegistrations(graphs []ProfileGraph) []DugsiRegistration {
	return lo.Map(graphs, func(g ProfileGraph, _ int) DugsiRegistration { return ToRegistration(g) })
}

// FamilyGroup is a set of siblings shown as one row on the families page.
type FamilyGroup struct {
	FamilyKey          string              `json:"familyKey"`
	FamilyReferenceID  string              `json:"familyReferenceId,omitempty"`
	ParentName         string              `json:"parentName"`
	ParentEmail        string              `json:"parentEmail"`
	ParentPhone        string              `json:"parentPhone"`
	SiblingNames       string              `json:"siblingNames"`
	ActiveCount        int                 `json:"activeCount"`
	SubscriptionStatus string              `json:"subscriptionStatus,omitempty"`
	SubscriptionAmount int64               `json:"subscriptionAmount,omitempty"`
	Members            []DugsiRegistration `json:"members"`
}

// FamilyKey groups registrations by family reference, then parent email, then parent phone.
func FamilyKey(r DugsiRegistration) string {
	switch {
	case r.FamilyReferenceID != "":
		return r.FamilyReferenceID
	case r.ParentEmail != "":
		return "email:" + strings.ToLower(strings.TrimSpace(r.ParentEmail))
	case r.ParentPhone != "":
		return "phone:" + strings.TrimSpace(r.ParentPhone)
	}
	return "student:" + r.ID
}

// GroupFamilies keeps the order in which each family first appears in regs.
func GroupFamilies(regs []DugsiRegistration) []FamilyGroup {
	byKey := lo.GroupBy(regs, FamilyKey)
	keys := lo.Uniq(lo.Map(regs, func(r DugsiRegistration, _ int) string { return FamilyKey(r) }))

	groups := make([]FamilyGroup, 0, len(keys))
	for _, key := range keys {
		members := byKey[key]
		first := members[0]
		g := FamilyGroup{
			FamilyKey:         key,
			FamilyReferenceID: first.FamilyReferenceID,
			ParentName:        JoinName(NameParts{first.ParentFirstName, first.ParentLastName}),
			ParentEmail:       first.ParentEmail,
			ParentPhone:       first.ParentPhone,
			SiblingNames:      SiblingNames(members),
			ActiveCount:       lo.CountBy(members, func(r DugsiRegistration) bool { return r.Status.Active() }),
			Members:           members,
		}
		if billed, ok := lo.Find(members, func(r DugsiRegistration) bool { return r.StripeSubscriptionID != "" }); ok {
			g.SubscriptionStatus = billed.SubscriptionStatus
			g.SubscriptionAmount = billed.SubscriptionAmount
		}
		groups = append(groups, g)
	}
	return groups
}

// SiblingNames lists first names as "Amina", "Amina and Yusuf" or "Amina, Yusuf and Zakariye".
func SiblingNames(members []DugsiRegistration) string {
	names := lo.Map(members, func(r DugsiRegistration, _ int) string {
		if r.FirstName != "" {
			return r.FirstName
		}
		return r.Name
	})
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0]
	}
	return strings.Join(names[:len(names)-1], ", ") + " and " + names[len(names)-1]
}
