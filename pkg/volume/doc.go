/*
Package volume provides host directories that containers keep across
restarts, and the "storage" plugin that mounts them.

Volumes live under <data_dir>/volumes/<container id>/<name>. At pre-creation
the plugin creates every volume the container lists and adds a bind mount
for it to the config document. A volume marked ephemeral is deleted at
post-stop, so each run starts empty; the others survive stop, restart and
daemon restarts until deleted by hand.

	plugins:
	  storage:
	    required: true
	    data:
	      volumes: "data:/var/lib/app,cache:/var/cache/app"
	      ephemeral: "cache"

If a later hook of the same creation fails, Undo deletes only the volumes
that this creation made; existing volumes keep their contents.
*/
package volume
