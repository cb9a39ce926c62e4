package lifecycle

import "github.com/pkg/errors"

type (
	ResponseEvent string
	SurveyEvent   string
	ApprovalEvent string
)

const (
	ResponseSubmit  ResponseEvent = "submit"
	ResponseApprove ResponseEvent = "approve"
	ResponseReject  ResponseEvent = "reject"
	ResponseReopen  ResponseEvent = "reopen"

	SurveyPublish SurveyEvent = "publish"
	SurveyArchive SurveyEvent = "archive"

	ApprovalStartReview ApprovalEvent = "start_review"
	ApprovalApprove     ApprovalEvent = "approve"
	ApprovalReject      ApprovalEvent = "reject"
)

// transition tables: {from: {event: to}}. Anything missing is illegal.
var (
	responseTransitions = map[ResponseStatus]map[ResponseEvent]ResponseStatus{
		ResponseDraft: {
			ResponseSubmit: ResponseSubmitted,
		},
		ResponseSubmitted: {
			ResponseApprove: ResponseApproved,
			ResponseReject:  ResponseRejected,
			ResponseReopen:  ResponseDraft,
		},
		ResponseRejected: {
			ResponseReopen: ResponseDraft,
		},
	}

	// archived is terminal
	surveyTransitions = map[SurveyStatus]map[SurveyEvent]SurveyStatus{
		SurveyDraft: {
			SurveyPublish: SurveyPublished,
		},
		SurveyPublished: {
			SurveyArchive: SurveyArchived,
		},
	}

	approvalTransitions = map[ApprovalStatus]map[ApprovalEvent]ApprovalStatus{
		ApprovalPending: {
			ApprovalStartReview: ApprovalInProgress,
			ApprovalApprove:     ApprovalApproved,
			ApprovalReject:      ApprovalRejected,
		},
		ApprovalInProgress: {
			ApprovalApprove: ApprovalApproved,
			ApprovalReject:  ApprovalRejected,
		},
	}
)

// TransitionResponse returns the status reached by applying ev to a response in status `from`.
// Illegal transitions fail with ErrInvalidTransition and `from` is returned unchanged.
func TransitionResponse(from ResponseStatus, ev ResponseEvent) (ResponseStatus, error) {
	if to, ok := responseTransitions[from][ev]; ok {
		return to, nil
	}
	return from, errors.Wrapf(ErrInvalidTransition, "survey response: cannot %s from %q", ev, from)
}

// TransitionSurvey returns the status reached by applying ev to a survey in status `from`.
func TransitionSurvey(from SurveyStatus, ev SurveyEvent) (SurveyStatus, error) {
	if to, ok := surveyTransitions[from][ev]; ok {
		return to, nil
	}
	return from, errors.Wrapf(ErrInvalidTransition, "survey: cannot %s from %q", ev, from)
}

// TransitionApproval returns the status reached by applying ev to a request in status `from`.
func TransitionApproval(from ApprovalStatus, ev ApprovalEvent) (ApprovalStatus, error) {
	if to, ok := approvalTransitions[from][ev]; ok {
		return to, nil
	}
	return from, errors.Wrapf(ErrInvalidTransition, "approval request: cannot %s from %q", ev, from)
}
