// Package mocks provides test doubles for the mapsdk capability interfaces.
package mocks

import (
	"context"

	mock "github.com/stretchr/testify/mock"

	mapsdk "github.com/sells-group/store-locator/internal/mapsdk"
	model "github.com/sells-group/store-locator/internal/model"
)

// MockMap is a mock type for the Map interface.
type MockMap struct {
	mock.Mock
}

// Center provides a mock function with given fields:
func (_m *MockMap) Center() model.LatLng {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Center")
	}

	var r0 model.LatLng
	if rf, ok := ret.Get(0).(func() model.LatLng); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(model.LatLng)
	}

	return r0
}

// Zoom provides a mock function with given fields:
func (_m *MockMap) Zoom() float64 {
	ret := _m.Called()

	if len(ret) == 0 {
		panic("no return value specified for Zoom")
	}

	var r0 float64
	if rf, ok := ret.Get(0).(func() float64); ok {
		r0 = rf()
	} else {
		r0 = ret.Get(0).(float64)
	}

	return r0
}

// Bounds provides a mock function with given fields: ctx
func (_m *MockMap) Bounds(ctx context.Context) ([]model.LatLng, error) {
	ret := _m.Called(ctx)

	if len(ret) == 0 {
		panic("no return value specified for Bounds")
	}

	var r0 []model.LatLng
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context) ([]model.LatLng, error)); ok {
		return rf(ctx)
	}
	if rf, ok := ret.Get(0).(func(context.Context) []model.LatLng); ok {
		r0 = rf(ctx)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]model.LatLng)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context) error); ok {
		r1 = rf(ctx)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// AddListener provides a mock function with given fields: event, fn
func (_m *MockMap) AddListener(event mapsdk.Event, fn func()) mapsdk.ListenerID {
	ret := _m.Called(event, fn)

	if len(ret) == 0 {
		panic("no return value specified for AddListener")
	}

	var r0 mapsdk.ListenerID
	if rf, ok := ret.Get(0).(func(mapsdk.Event, func()) mapsdk.ListenerID); ok {
		r0 = rf(event, fn)
	} else {
		r0 = ret.Get(0).(mapsdk.ListenerID)
	}

	return r0
}

// RemoveListener provides a mock function with given fields: id
func (_m *MockMap) RemoveListener(id mapsdk.ListenerID) {
	_m.Called(id)
}

// Destroy provides a mock function with given fields:
func (_m *MockMap) Destroy() {
	_m.Called()
}

// NewMockMap creates a new instance of MockMap. It also registers a testing
// interface on the mock and a cleanup function to assert the mocks expectations.
func NewMockMap(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockMap {
	m := &MockMap{}
	m.Mock.Test(t)

	t.Cleanup(func() { m.AssertExpectations(t) })

	return m
}
