// Package services implements the two core components of the dealer
// exchange: the import reconciler and the transfer workflow state machine.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed at
// the handler layer.
package services

import "errors"

var (
	// ErrLocationNotFound indicates that the referenced dealership location
	// does not exist.
	ErrLocationNotFound = errors.New("location not found")

	// ErrVehicleNotFound indicates that the requested vehicle does not exist
	// (or was permanently purged).
	ErrVehicleNotFound = errors.New("vehicle not found")

	// ErrTransferNotFound indicates that the requested transfer does not exist.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrInvalidTransition is returned when a workflow operation is invoked
	// against a transfer that is not in the required source state. Losing a
	// concurrent approval race surfaces as this error: the second approver
	// observes a transfer that already left "requested".
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrForbidden is returned when the acting user is not authorized for the
	// operation (wrong location, insufficient role).
	ErrForbidden = errors.New("forbidden")

	// ErrVehicleUnavailable is returned when a transfer is requested for a
	// vehicle whose status does not admit new bids (in-transit, delivered,
	// or removed).
	ErrVehicleUnavailable = errors.New("vehicle not open to transfer requests")

	// ErrSameLocation is returned when a location requests a transfer of a
	// vehicle it already holds.
	ErrSameLocation = errors.New("vehicle is already at the requesting location")

	// ErrReasonRequired is returned when a reject or cancel operation omits
	// the mandatory reason.
	ErrReasonRequired = errors.New("a reason is required")

	// ErrFeedUnavailable indicates the location's feed snapshot could not be
	// read; the whole reconciliation for that location is aborted and left to
	// the scheduler to retry.
	ErrFeedUnavailable = errors.New("feed unavailable")
)
