// Package query is the backend-neutral filter and query model shared by every
// storage driver.
//
// A FilterSet is a conjunction of Expressions plus an optional list of
// alternative FilterSets. Each Expression is tagged by its Operator and each
// driver compiles the tagged expressions into its own native query form:
//
//	relational:  parameterized WHERE clause
//	firestore:   PropertyFilter / OrFilter composites
//	mongodb:     operator-keyed bson.D documents
//
// Drivers never share compiled output; the only thing they have in common is
// this package. Match evaluates a FilterSet against an in-memory record and is
// used wherever a backend delivers documents that still need filtering, such
// as change streams.
//
// Example:
//
//	spec := query.Spec{
//		Filter: query.FilterSet{Conditions: []query.Expression{
//			{Field: "temperature", Op: query.OpGt, Value: 20},
//		}},
//		Order: []query.Order{{Field: "temperature", Direction: query.Desc}},
//		Limit: 10,
//	}
package query
