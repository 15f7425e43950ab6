// Package types provides shared domain type definitions used across ppmcore packages.
// This package exists to break import cycles between store, importer, variance and ai.
// Types in this package should be foundational data structures with no complex dependencies.
package types

import "time"

// =============================================================================
// PORTFOLIO / PROJECT / RESOURCE
// =============================================================================

// ProjectStatus enumerates the lifecycle states of a project.
type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on-hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

// HealthStatus is the traffic-light health of a project.
type HealthStatus string

const (
	HealthGreen  HealthStatus = "green"
	HealthYellow HealthStatus = "yellow"
	HealthRed    HealthStatus = "red"
)

// Portfolio is the root of project aggregation within one organization.
type Portfolio struct {
	ID             string
	OrganizationID string
	Name           string
	OwnerID        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Project belongs to a portfolio and exclusively owns its financial facts,
// schedules and WBS elements.
type Project struct {
	ID          string
	PortfolioID string
	Name        string
	Description string
	Status      ProjectStatus
	Priority    int
	Budget      float64
	// ActualCost is derived: sum of related financial facts at the time of
	// the last recomputation.
	ActualCost  float64
	Health      HealthStatus
	StartDate   *time.Time
	EndDate     *time.Time
	TeamMembers []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ResourceStatus is derived at read time from utilization.
type ResourceStatus string

const (
	ResourceAvailable          ResourceStatus = "available"
	ResourcePartiallyAllocated ResourceStatus = "partially_allocated"
	ResourceMostlyAllocated    ResourceStatus = "mostly_allocated"
	ResourceFullyAllocated     ResourceStatus = "fully_allocated"
)

// Resource is a person or capacity unit assignable to projects.
type Resource struct {
	ID           string
	Name         string
	Email        string
	Role         string
	Capacity     int // weekly hours
	Availability int // percent 0-100
	Skills       []string
	Location     string
	HourlyRate   float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ResourceView augments a Resource with derived allocation fields.
// Utilization may exceed 100 internally (over-allocation); display clamps.
type ResourceView struct {
	Resource
	UtilizationPct float64
	AllocatedHours float64
	AvailableHours float64
	Status         ResourceStatus
}

// DeriveResourceStatus maps a utilization percentage onto the closed status set.
func DeriveResourceStatus(utilizationPct float64) ResourceStatus {
	switch {
	case utilizationPct <= 0:
		return ResourceAvailable
	case utilizationPct < 50:
		return ResourcePartiallyAllocated
	case utilizationPct < 100:
		return ResourceMostlyAllocated
	default:
		return ResourceFullyAllocated
	}
}
