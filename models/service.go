package models

import (
	"sync"
	"time"
)

type Service interface {
	Start()
	Health() ServiceHealth
	Stop()
}

type RunnerStatus struct {
	Custodians  string `bson:"custodians"`
	Obligations string `bson:"obligations"`
}

type ServiceHealth struct {
	Name         string    `bson:"name"`
	LastSyncTime time.Time `bson:"last_sync_time"`
	NextSyncTime time.Time `bson:"next_sync_time"`
	Custodians   string    `bson:"custodians"`
	Obligations  string    `bson:"obligations"`
	Healthy      bool      `bson:"healthy"`
}

type EmptyService struct {
	wg *sync.WaitGroup
}

func (e *EmptyService) Start() {}

func (e *EmptyService) Stop() {
	e.wg.Done()
}

const EmptyServiceName = "empty"

func (e *EmptyService) Health() ServiceHealth {
	return ServiceHealth{
		Name:         EmptyServiceName,
		LastSyncTime: time.Now(),
		NextSyncTime: time.Now(),
		Healthy:      true,
	}
}

func NewEmptyService(wg *sync.WaitGroup) *EmptyService {
	return &EmptyService{
		wg: wg,
	}
}
