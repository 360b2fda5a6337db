package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskBatchDispatch = "calls.batch.dispatch"

const TaskAnalyzeRequest = "requests.analyze"

const TaskBookingDispatch = "calls.booking.dispatch"

type BatchDispatchPayload struct {
	RequestID string `json:"requestId"`
}

type AnalyzeRequestPayload struct {
	RequestID string `json:"requestId"`
}

type BookingDispatchPayload struct {
	RequestID   string `json:"requestId"`
	CandidateID string `json:"candidateId"`
}

func NewBatchDispatchTask(payload BatchDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchDispatch, data), nil
}

func ParseBatchDispatchPayload(task *asynq.Task) (BatchDispatchPayload, error) {
	var payload BatchDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BatchDispatchPayload{}, err
	}
	return payload, nil
}

func NewAnalyzeRequestTask(payload AnalyzeRequestPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAnalyzeRequest, data), nil
}

func ParseAnalyzeRequestPayload(task *asynq.Task) (AnalyzeRequestPayload, error) {
	var payload AnalyzeRequestPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return AnalyzeRequestPayload{}, err
	}
	return payload, nil
}

func NewBookingDispatchTask(payload BookingDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBookingDispatch, data), nil
}

func ParseBookingDispatchPayload(task *asynq.Task) (BookingDispatchPayload, error) {
	var payload BookingDispatchPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return BookingDispatchPayload{}, err
	}
	return payload, nil
}
