/*
Package config reads rcynic's YAML configuration file and maps it onto
the options spec.md §6 recognises: the three staging roots, the rsync
fetcher, locking and jitter, the logging sinks, the XML summary path,
the policy toggles, and the repeatable trust-anchor lists. Parsed with
gopkg.in/yaml.v3, the same serialization library used elsewhere in this
tree for structured file formats.
*/
package config
