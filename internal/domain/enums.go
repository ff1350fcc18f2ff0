package domain

type TaskStatus string

const (
	TaskNeedsScheduled TaskStatus = "needs-scheduled"
	TaskScheduled      TaskStatus = "scheduled"
	TaskInProgress     TaskStatus = "in-progress"
	TaskBlocked        TaskStatus = "blocked"
	TaskCompleted      TaskStatus = "completed"
	TaskCancelled      TaskStatus = "cancelled"
)

var TaskStatuses = []TaskStatus{TaskNeedsScheduled, TaskScheduled, TaskInProgress, TaskBlocked, TaskCompleted, TaskCancelled}

type Category string

var Categories = []Category{
	"demolition", "electrical", "plumbing", "hvac", "carpentry", "drywall", "painting",
	"flooring", "roofing", "exterior", "landscaping", "appliances", "cleaning", "general",
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

type MaterialStatus string

const (
	MaterialNeedToSelect   MaterialStatus = "need-to-select"
	MaterialSelected       MaterialStatus = "selected"
	MaterialNeedToOrder    MaterialStatus = "need-to-order"
	MaterialOrdered        MaterialStatus = "ordered"
	MaterialVendorProvided MaterialStatus = "vendor-provided"
	MaterialOnHand         MaterialStatus = "on-hand"
)

var MaterialStatuses = []MaterialStatus{
	MaterialNeedToSelect, MaterialSelected, MaterialNeedToOrder,
	MaterialOrdered, MaterialVendorProvided, MaterialOnHand,
}

// IssueType is the structured question type; it selects the Response variant.
type IssueType string

const (
	IssueAssignee       IssueType = "assignee"
	IssueDate           IssueType = "date"
	IssueDateRange      IssueType = "date-range"
	IssueDependency     IssueType = "dependency"
	IssueYesNo          IssueType = "yes-no"
	IssueSelectOne      IssueType = "select-one"
	IssueMaterialStatus IssueType = "material-status"
	IssueNotification   IssueType = "notification"
	IssueFreeText       IssueType = "free-text"
)

var IssueTypes = []IssueType{
	IssueAssignee, IssueDate, IssueDateRange, IssueDependency, IssueYesNo,
	IssueSelectOne, IssueMaterialStatus, IssueNotification, IssueFreeText,
}

type IssueStatus string

const (
	IssueOpen      IssueStatus = "open"
	IssueAnswered  IssueStatus = "answered"
	IssueResolved  IssueStatus = "resolved"
	IssueDismissed IssueStatus = "dismissed"
)

var IssueStatuses = []IssueStatus{IssueOpen, IssueAnswered, IssueResolved, IssueDismissed}

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewAccepted ReviewStatus = "accepted"
	ReviewRejected ReviewStatus = "rejected"
)

var ReviewStatuses = []ReviewStatus{ReviewPending, ReviewAccepted, ReviewRejected}

// Person is a member of the household who can be asked a question.
type Person string

const (
	PersonOwner      Person = "owner"
	PersonPartner    Person = "partner"
	PersonContractor Person = "contractor"
)

var People = []Person{PersonOwner, PersonPartner, PersonContractor}

type IssueSource string

const (
	SourceManual        IssueSource = "manual"
	SourceAutoLifecycle IssueSource = "auto-lifecycle"
	SourceAutoDetection IssueSource = "auto-detection"
)

var IssueSources = []IssueSource{SourceManual, SourceAutoLifecycle, SourceAutoDetection}

type ActionCategory string

const (
	ActionSchedule   ActionCategory = "schedule"
	ActionBlocker    ActionCategory = "blocker"
	ActionMaterial   ActionCategory = "material"
	ActionAssignment ActionCategory = "assignment"
	ActionDecision   ActionCategory = "decision"
	ActionInfo       ActionCategory = "info"
)

var ActionCategories = []ActionCategory{ActionSchedule, ActionBlocker, ActionMaterial, ActionAssignment, ActionDecision, ActionInfo}

// Resolution markers written to Issue.ResolvedBy.
const (
	ResolvedByAuto   = "auto"
	ResolvedByReview = "review"
)

// OneOf reports whether v is a member of set.
func OneOf[T ~string](v T, set []T) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
