/*
Package xmlsummary writes the end-of-run XML report spec.md §6 describes:
a <rcynic-summary> root carrying a <labels> block (one entry per counter,
classified good/warn/bad), one <host> block per observed host with its
per-counter totals, and one <validation_status> line per logged event.
Built on encoding/xml (stdlib — no ecosystem XML templating library
appears anywhere in the example corpus; see DESIGN.md). Renders directly
from the counters.Registry rather than re-deriving host totals from the
event bus, so the per-host counter vectors it reports — including the
rsync_* fetch counts that never generate a validation_status entry —
equal the registry's own state exactly, satisfying spec.md §8's
round-trip invariant by construction.
*/
package xmlsummary
