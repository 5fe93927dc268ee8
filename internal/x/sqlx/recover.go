package sqlx

// failure carries an error out of a SQL transaction by panicking.
type failure struct {
	cause error
}

// Must panics with err if it is non-nil. The panic is converted back into an
// error by Recover.
func Must(err error) {
	if err != nil {
		panic(failure{err})
	}
}

// Recover assigns the error passed to Must to *err. Other panics are
// propagated. It must be called directly by a deferred statement.
func Recover(err *error) {
	if err == nil {
		panic("err must be a non-nil pointer")
	}

	if v := recover(); v != nil {
		f, ok := v.(failure)
		if !ok {
			panic(v)
		}

		*err = f.cause
	}
}
