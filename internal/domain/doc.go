// Package domain contains the core business entities, value objects, and
// domain logic of the application: the analysis task, its lifecycle state
// machine and the result it carries. It is independent of any specific
// infrastructure or delivery mechanism.
package domain
