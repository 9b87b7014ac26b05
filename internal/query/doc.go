// Package query compiles query strings into expression trees.
//
// The language joins operands with '*' (AND), '/' (AND, filtering the left
// side without adding to its score), '+' (OR) and '-' (AND NOT). The words
// AND, OR and NOT map onto those operators, adjacent operands are joined by
// an implicit operator, and a leading '-' subtracts from all documents.
// '+' and '-' bind loosest: "a -b c" is a minus (b AND c).
// Operands may be scoped to a field with "field:value" or "field:( ... )".
//
// Compile classifies every leaf by the declared type of its field:
//
//	title:shoes          term (analyzed like indexed text)
//	title:"red shoes"^2  phrase with a proximity of 2
//	title:sho* / *oes    wildcard
//	title:{red,blue}     any of several terms
//	tag:[a TO m]         lexical range
//	price:10..20 >5 <=9  numeric tests
//	flags:&4 &=6 &!1     bit tests (any, all, none)
//	loc:40.0/-74.0~5     points within 5 km
//	*                    every document
//
// Leaves on unknown fields compile to a neutral no-op.
package query
