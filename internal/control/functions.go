package control

import (
	"context"

	"nuha.dev/trackee/internal/agent"
	"nuha.dev/trackee/internal/reporter"
)

type Controller interface {
	Start() bool
	Stop() bool
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) error
	ReportNow(ctx context.Context) (reporter.Result, error)
	Status(ctx context.Context) (agent.Status, error)
}

type functions struct {
	ctl Controller
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type BasicResponse struct {
	Ok      bool   `json:"ok"`
	Changed bool   `json:"changed"`
	Message string `json:"message,omitempty"`
}

type ReportResponse struct {
	Result reporter.Result `json:"result"`
}

func (f *functions) GetStatus(ctx context.Context, res *agent.Status) error {
	st, err := f.ctl.Status(ctx)
	if err != nil {
		return err
	}
	*res = st
	return nil
}

func (f *functions) StartTracking(ctx context.Context, res *BasicResponse) error {
	st, err := f.ctl.Status(ctx)
	if err != nil {
		return err
	}
	if !st.LoggedIn {
		return agent.ErrNotLoggedIn
	}
	res.Ok = true
	res.Changed = f.ctl.Start()
	return nil
}

func (f *functions) StopTracking(_ context.Context, res *BasicResponse) error {
	res.Ok = true
	res.Changed = f.ctl.Stop()
	return nil
}

func (f *functions) Login(ctx context.Context, req *LoginRequest, res *BasicResponse) error {
	if err := f.ctl.Login(ctx, req.Email, req.Password); err != nil {
		return err
	}
	res.Ok = true
	res.Changed = true
	res.Message = "Login Successful"
	return nil
}

func (f *functions) Logout(ctx context.Context, res *BasicResponse) error {
	if err := f.ctl.Logout(ctx); err != nil {
		return err
	}
	res.Ok = true
	res.Changed = true
	return nil
}

func (f *functions) ReportNow(ctx context.Context, res *ReportResponse) error {
	r, err := f.ctl.ReportNow(ctx)
	if err != nil {
		return err
	}
	res.Result = r
	return nil
}
