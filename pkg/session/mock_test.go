package session

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/roboricindustries/rescue-events/pkg/gateway"
	"github.com/roboricindustries/rescue-events/pkg/schemas/requests"
)

type apiMock struct {
	mock.Mock
}

var _ gateway.API = (*apiMock)(nil)

func (m *apiMock) Login(ctx context.Context, in gateway.LoginRequest) (gateway.AuthResponse, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(gateway.AuthResponse), args.Error(1)
}

func (m *apiMock) Register(ctx context.Context, in gateway.RegisterRequest) (gateway.AuthResponse, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(gateway.AuthResponse), args.Error(1)
}

func (m *apiMock) CurrentUser(ctx context.Context) (gateway.User, error) {
	args := m.Called(ctx)
	return args.Get(0).(gateway.User), args.Error(1)
}

func (m *apiMock) MyRequests(ctx context.Context) ([]requests.BreakdownRequest, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]requests.BreakdownRequest)
	return list, args.Error(1)
}

func (m *apiMock) GetRequest(ctx context.Context, id string) (requests.BreakdownRequest, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(requests.BreakdownRequest), args.Error(1)
}

func (m *apiMock) CreateRequest(ctx context.Context, in requests.CreateInput) (requests.BreakdownRequest, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(requests.BreakdownRequest), args.Error(1)
}

func (m *apiMock) AcceptRequest(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *apiMock) RejectRequest(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *apiMock) CancelRequest(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *apiMock) CompleteRequest(ctx context.Context, id string, in requests.CompleteInput) error {
	return m.Called(ctx, id, in).Error(0)
}

func (m *apiMock) RegisterMechanic(ctx context.Context, in gateway.MechanicRegistration) (gateway.MechanicProfile, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(gateway.MechanicProfile), args.Error(1)
}

func (m *apiMock) UpdateAvailability(ctx context.Context, available bool) error {
	return m.Called(ctx, available).Error(0)
}

func (m *apiMock) UpdateLocation(ctx context.Context, lat, lng float64) error {
	return m.Called(ctx, lat, lng).Error(0)
}

func (m *apiMock) SetToken(token string) { m.Called(token) }

func (m *apiMock) ClearToken() { m.Called() }
