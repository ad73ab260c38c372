package query

var ClampLimit = clampLimit
