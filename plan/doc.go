package plan

// The following documentation describes how a statement is mapped from SQL
// to the plan the code generator lowers into VM instructions.
//
// The planner runs a fixed sequence of phases over a validated statement:
//
// 1) Conjuncts
//    WHERE and inner join ON clauses are split on their top level ANDs into
//    one list. Conjuncts of a LEFT JOIN ON clause are kept apart, tagged
//    with the table reference whose ON clause holds them.
//
// 2) Desired order
//    When the result is neither grouped nor DISTINCT and every ORDER BY key
//    is a plain column, the keys become the desired order. Only the first
//    table of the loop may satisfy it, and only when all keys are ascending
//    and the index chain starts with exactly those columns.
//
// 3) OR set
//    A single table query with a conjunct shaped
//
//      (a = 1 AND b = 2) OR (a = 3 AND b = 4) OR ...
//
//    is rewritten into a workset holding the tuples and equalities of the
//    table columns against a pseudo table reading that workset. The rewrite
//    is kept only when an index can serve the equalities.
//
// 4) Loop order
//    Tables are placed greedily: each round picks the table with the best
//    strategy given the tables already placed, ties keep FROM order. Any
//    LEFT JOIN pins the FROM order.
//
//    Every conjunct is attached to the first level where all tables it
//    references are bound. A conjunct attached to the inner side of a LEFT
//    JOIN becomes a post condition, checked after the blank extension of an
//    unmatched outer row. Conjuncts referencing no table are checked once
//    before the loops start.
//
// 5) Index selection
//    Per level, every index is scored against the level's conjuncts:
//
//      exact      equality on every column of a unique key
//      exact-dup  equality on every column of a duplicate key
//      range      equality on a prefix, or a bound on the next text column
//      assoc      associative key with an equality or LIKE prefix
//      full-scan  nothing usable
//
//    Conjuncts stay attached as filters whatever is chosen, so the index
//    only narrows what is read.
//
// 6) Mode
//    A grouped or DISTINCT result, or an order not satisfied by the index,
//    is materialized into the result workset at open time. FOR UPDATE with
//    an order to sort is keyed: rows carry their file position and are
//    re-read on fetch. Everything else is dynamic and produced row by row.
//
// 7) Output
//    Aggregation sorts input rows into the sort workset, breaks on group
//    key changes against the group workset and accumulates into the accum
//    workset. The projection moves select items, hidden ORDER BY keys and
//    the file position into the result workset, which is finally sorted.
