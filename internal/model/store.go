package model

// ReferenceKind names one of the master data lists.
type ReferenceKind string

const (
	KindProject   ReferenceKind = "Project"
	KindActivity  ReferenceKind = "Activity Type"
	KindLeaveType ReferenceKind = "Leave Type"
)

// Reference is a cached lookup value sourced from the HR system.
type Reference struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Settings holds HR settings cached from the last successful refresh.
type Settings struct {
	GeolocationRequired bool `json:"geolocationRequired" yaml:"geolocation_required"`
}

// Store is the whole persisted ledger snapshot.
type Store struct {
	Projects      []Reference    `json:"projects" yaml:"projects"`
	Activities    []Reference    `json:"activities" yaml:"activities"`
	LeaveTypes    []Reference    `json:"leaveTypes" yaml:"leave_types"`
	TimeEntries   []WorkSession  `json:"timeEntries" yaml:"time_entries"`
	LeaveRequests []LeaveRequest `json:"leaveRequests" yaml:"leave_requests"`
	Settings      Settings       `json:"settings" yaml:"settings"`
}

// Normalize replaces nil lists with empty ones so callers and the serialized
// form never see null.
func (s *Store) Normalize() {
	if s.Projects == nil {
		s.Projects = []Reference{}
	}
	if s.Activities == nil {
		s.Activities = []Reference{}
	}
	if s.LeaveTypes == nil {
		s.LeaveTypes = []Reference{}
	}
	if s.TimeEntries == nil {
		s.TimeEntries = []WorkSession{}
	}
	if s.LeaveRequests == nil {
		s.LeaveRequests = []LeaveRequest{}
	}
}

// OpenSession returns the running session, if any.
func (s *Store) OpenSession() *WorkSession {
	for i := range s.TimeEntries {
		if s.TimeEntries[i].End == nil {
			return &s.TimeEntries[i]
		}
	}
	return nil
}

// Session returns the session with the given id.
func (s *Store) Session(id string) *WorkSession {
	for i := range s.TimeEntries {
		if s.TimeEntries[i].ID == id {
			return &s.TimeEntries[i]
		}
	}
	return nil
}

// LeaveRequest returns the leave request with the given id.
func (s *Store) LeaveRequest(id string) *LeaveRequest {
	for i := range s.LeaveRequests {
		if s.LeaveRequests[i].ID == id {
			return &s.LeaveRequests[i]
		}
	}
	return nil
}

// FindReference returns the entry with the given id from refs.
func FindReference(refs []Reference, id string) (Reference, bool) {
	for _, r := range refs {
		if r.ID == id {
			return r, true
		}
	}
	return Reference{}, false
}
