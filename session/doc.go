// Package session implements the VPN session lifecycle controller.
//
// The package is organized around five types:
//
//   - ProfileBuilder: turns raw connection parameters into a validated Profile
//   - ConnectivityGate: a point-in-time network reachability check
//   - PermissionCoordinator: the single in-flight launch-permission request
//   - Controller: owns the current Stage and Status and drives the engine
//   - Broadcaster: pushes Stage and Status to at most one subscriber each
//
// # Connection Flow
//
// A start command runs through:
//
//  1. Parameter check (empty config or name is rejected, Stage unchanged)
//  2. Stage preparing, connectivity check (no_network when offline)
//  3. Profile build (disconnected on parse failure)
//  4. Launch permission (awaiting_permission, then denied or granted)
//  5. Stage connecting, engine CheckProfile, SetActiveProfile, Start
//
// After launch the engine drives the Stage through its notification feed.
// A stop command is accepted in every state and always ends in disconnected.
//
// # Thread Safety
//
// The Controller serializes commands, permission results and engine
// notifications behind a single mutex. Stage and Status are published while
// that mutex is held, so subscribers observe transitions in the order they
// were applied. Subscribers must not call back into the Controller from
// their Send methods.
package session
