package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/klenai/stonecare/internal/application/services"
	"github.com/klenai/stonecare/internal/domain/entities"
	"github.com/klenai/stonecare/pkg/config"
)

type dispatcherFixture struct {
	nudges     *MockNudgeRepository
	plans      *MockPlanRepository
	patients   *MockPatientRepository
	sender     *MockMessageSender
	dispatcher *services.NudgeDispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		nudges:   new(MockNudgeRepository),
		plans:    new(MockPlanRepository),
		patients: new(MockPatientRepository),
		sender:   new(MockMessageSender),
	}
	f.dispatcher = services.NewNudgeDispatcher(
		f.nudges, f.plans, f.patients, f.sender, nil,
		config.DispatchConfig{BatchLimit: 10},
	)
	f.nudges.On("ReleaseStale", mock.Anything, mock.Anything).Return(0, nil)
	return f
}

func dueNudge(channel entities.NudgeChannel) *entities.Nudge {
	return &entities.Nudge{
		ID:           "nudge-1",
		PlanID:       "plan-1",
		PatientID:    "patient-1",
		ScheduledFor: time.Now().Add(-time.Hour),
		Channel:      channel,
		Template:     "hydration_morning",
		Message:      "Good morning! Start with a big glass of water.",
		Status:       entities.NudgeStatusQueued,
	}
}

func approvedPlan() *entities.PlanVersion {
	return &entities.PlanVersion{
		ID:        "plan-1",
		PatientID: "patient-1",
		Status:    entities.PlanStatusApproved,
	}
}

func reachablePatient() *entities.Patient {
	return &entities.Patient{
		ID:    "patient-1",
		Phone: "+15550100",
		Preferences: entities.ContactPreferences{
			SMSEnabled:   true,
			VoiceEnabled: true,
		},
	}
}

func TestNudgeDispatcher_SendsSMS(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelSMS)

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(approvedPlan(), nil)
	f.patients.On("GetByID", mock.Anything, "patient-1").Return(reachablePatient(), nil)
	f.sender.On("SendSMS", mock.Anything, "+15550100", nudge.Message).Return(nil)
	f.nudges.On("Finalize", mock.Anything, "nudge-1", entities.NudgeStatusSent, "", mock.Anything).Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	assert.Zero(t, stats.Blocked)
	f.sender.AssertExpectations(t)
	f.nudges.AssertExpectations(t)
}

func TestNudgeDispatcher_VoiceChannelUsesCall(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelVoice)

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(approvedPlan(), nil)
	f.patients.On("GetByID", mock.Anything, "patient-1").Return(reachablePatient(), nil)
	f.sender.On("StartCall", mock.Anything, "+15550100", nudge.Message).Return(nil)
	f.nudges.On("Finalize", mock.Anything, "nudge-1", entities.NudgeStatusSent, "", mock.Anything).Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
	f.sender.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestNudgeDispatcher_PlanNotApprovedStaysQueued(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelSMS)
	plan := approvedPlan()
	plan.Status = entities.PlanStatusPending

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(plan, nil)
	f.nudges.On("Release", mock.Anything, "nudge-1").Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Blocked)
	f.sender.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
	f.nudges.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNudgeDispatcher_SupersededPlanSkips(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelSMS)
	plan := approvedPlan()
	plan.Status = entities.PlanStatusSuperseded

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(plan, nil)
	f.nudges.On("Finalize", mock.Anything, "nudge-1", entities.NudgeStatusSkipped, "plan superseded", (*time.Time)(nil)).Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	f.patients.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestNudgeDispatcher_PatientGates(t *testing.T) {
	tests := []struct {
		name  string
		setup func(p *entities.Patient, n *entities.Nudge)
	}{
		{
			name: "communication paused",
			setup: func(p *entities.Patient, n *entities.Nudge) {
				p.CommunicationPaused = true
			},
		},
		{
			name: "channel disabled",
			setup: func(p *entities.Patient, n *entities.Nudge) {
				p.Preferences.SMSEnabled = false
			},
		},
		{
			name: "quiet hours",
			setup: func(p *entities.Patient, n *entities.Nudge) {
				// A two-hour window centered on the current time.
				now := time.Now().UTC()
				p.QuietHoursStart = now.Add(-time.Hour).Format("15:04")
				p.QuietHoursEnd = now.Add(time.Hour).Format("15:04")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDispatcherFixture(t)
			nudge := dueNudge(entities.ChannelSMS)
			patient := reachablePatient()
			tt.setup(patient, nudge)

			f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
			f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
			f.plans.On("GetByID", mock.Anything, "plan-1").Return(approvedPlan(), nil)
			f.patients.On("GetByID", mock.Anything, "patient-1").Return(patient, nil)
			f.nudges.On("Release", mock.Anything, "nudge-1").Return(nil)

			stats, err := f.dispatcher.DispatchDue(context.Background())
			require.NoError(t, err)
			assert.Equal(t, 1, stats.Blocked)
			f.sender.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestNudgeDispatcher_TransportFailureIsTerminal(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelSMS)

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(approvedPlan(), nil)
	f.patients.On("GetByID", mock.Anything, "patient-1").Return(reachablePatient(), nil)
	f.sender.On("SendSMS", mock.Anything, "+15550100", nudge.Message).Return(errors.New("carrier rejected"))
	f.nudges.On("Finalize", mock.Anything, "nudge-1", entities.NudgeStatusFailed, "carrier rejected", (*time.Time)(nil)).Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)

	// No release, no retry: the nudge is terminal.
	f.nudges.AssertNotCalled(t, "Release", mock.Anything, mock.Anything)
	f.sender.AssertNumberOfCalls(t, "SendSMS", 1)
}

func TestNudgeDispatcher_OpenCircuitReleasesInsteadOfFailing(t *testing.T) {
	f := newDispatcherFixture(t)

	// Enough consecutive transport failures to open the circuit; the breaker
	// rejects the last nudge before any send is attempted.
	due := make([]*entities.Nudge, 6)
	for i := range due {
		n := dueNudge(entities.ChannelSMS)
		n.ID = "nudge-" + string(rune('1'+i))
		due[i] = n
		f.nudges.On("Claim", mock.Anything, n.ID).Return(true, nil)
	}

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return(due, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(approvedPlan(), nil)
	f.patients.On("GetByID", mock.Anything, "patient-1").Return(reachablePatient(), nil)
	f.sender.On("SendSMS", mock.Anything, "+15550100", mock.Anything).Return(errors.New("carrier rejected"))
	f.nudges.On("Finalize", mock.Anything, mock.Anything, entities.NudgeStatusFailed, "carrier rejected", (*time.Time)(nil)).Return(nil)
	f.nudges.On("Release", mock.Anything, "nudge-6").Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)

	// Five real attempts fail terminally; the sixth never reaches the
	// transport and stays queued for a later pass.
	assert.Equal(t, 5, stats.Failed)
	assert.Equal(t, 1, stats.Blocked)
	f.sender.AssertNumberOfCalls(t, "SendSMS", 5)
	f.nudges.AssertCalled(t, "Release", mock.Anything, "nudge-6")
}

func TestNudgeDispatcher_SweepsStaleClaims(t *testing.T) {
	nudges := new(MockNudgeRepository)
	plans := new(MockPlanRepository)
	patients := new(MockPatientRepository)
	sender := new(MockMessageSender)
	dispatcher := services.NewNudgeDispatcher(
		nudges, plans, patients, sender, nil,
		config.DispatchConfig{BatchLimit: 10, ClaimTimeout: 2 * time.Minute},
	)

	nudges.On("ReleaseStale", mock.Anything, mock.MatchedBy(func(cutoff time.Time) bool {
		age := time.Now().UTC().Sub(cutoff)
		return age > time.Minute && age < 3*time.Minute
	})).Return(2, nil)
	nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{}, nil)

	stats, err := dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, services.DispatchStats{}, stats)
	nudges.AssertExpectations(t)
}

func TestNudgeDispatcher_PlanLookupErrorReleases(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelSMS)

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(true, nil)
	f.plans.On("GetByID", mock.Anything, "plan-1").Return(nil, errors.New("connection reset"))
	f.nudges.On("Release", mock.Anything, "nudge-1").Return(nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, services.DispatchStats{}, stats)
	f.nudges.AssertCalled(t, "Release", mock.Anything, "nudge-1")
	f.nudges.AssertNotCalled(t, "Finalize", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestNudgeDispatcher_UnclaimedNudgeIsLeftAlone(t *testing.T) {
	f := newDispatcherFixture(t)
	nudge := dueNudge(entities.ChannelSMS)

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{nudge}, nil)
	f.nudges.On("Claim", mock.Anything, "nudge-1").Return(false, nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, services.DispatchStats{}, stats)
	f.plans.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}

func TestNudgeDispatcher_EmptyQueue(t *testing.T) {
	f := newDispatcherFixture(t)

	f.nudges.On("ListQueuedDue", mock.Anything, mock.Anything, 10).Return([]*entities.Nudge{}, nil)

	stats, err := f.dispatcher.DispatchDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, services.DispatchStats{}, stats)
}
