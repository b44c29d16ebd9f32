package backend

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// ProfilePayload is the raw /api/auth/profile body. Fields are optional and
// normalized by the profile package.
type ProfilePayload struct {
	FirstName      *string         `json:"firstName"`
	LastName       *string         `json:"lastName"`
	SchoolIDNumber json.RawMessage `json:"schoolIdNumber"`
	Email          *string         `json:"email"`
	Role           *string         `json:"role"`
	UserRole       *string         `json:"userRole"`
	OfficeCode     *string         `json:"officeCode"`
	Office         *string         `json:"office"`
}

// SchoolID returns schoolIdNumber whether it was sent as a string or a number.
func (p ProfilePayload) SchoolID() string {
	raw := strings.TrimSpace(string(p.SchoolIDNumber))
	if raw == "" || raw == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.SchoolIDNumber, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(p.SchoolIDNumber, &n); err == nil {
		return n.String()
	}
	return ""
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token       string `json:"token"`
	AccessToken string `json:"accessToken"`
}

type resetRequest struct {
	Email string `json:"email"`
}

// Incident is a submitted report as returned by the backend.
type Incident struct {
	ID             string        `json:"id,omitempty"`
	TrackingNumber string        `json:"trackingNumber"`
	IncidentType   string        `json:"incidentType"`
	Location       string        `json:"location"`
	Description    string        `json:"description"`
	Status         string        `json:"status"`
	DateOfIncident string        `json:"dateOfIncident,omitempty"`
	SubmittedAt    time.Time     `json:"submittedAt,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Evidence       []EvidenceRef `json:"evidence,omitempty"`
}

// EvidenceRef describes an attached file on a submitted incident.
type EvidenceRef struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	Data        []byte `json:"data,omitempty"`
}

// IncidentSubmission is the body of POST /api/incidents.
type IncidentSubmission struct {
	IncidentType   string        `json:"incidentType"`
	Location       string        `json:"location"`
	Description    string        `json:"description"`
	DateOfIncident string        `json:"dateOfIncident"`
	Tags           []string      `json:"tags,omitempty"`
	Evidence       []EvidenceRef `json:"evidence,omitempty"`
}

// Bulletin is an office announcement that users can upvote.
type Bulletin struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	AuthorName  string    `json:"authorName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpvoteCount int       `json:"upvoteCount"`
}

// IDString is the bulletin id as used in topic names and URLs.
func (b Bulletin) IDString() string { return strconv.FormatInt(b.ID, 10) }

// TagRequest is the body of POST /api/tags/generate.
type TagRequest struct {
	Description  string `json:"description"`
	Location     string `json:"location"`
	IncidentType string `json:"incidentType,omitempty"`
}

type tagResponse struct {
	Tags []string `json:"tags"`
}
